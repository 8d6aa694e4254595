// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package nats

import (
	"regexp"
	"strings"
	"time"

	"github.com/tochemey/sagamatch/internal/validation"
)

const (
	defaultConnName          = "sagamatch-queue"
	defaultVisibilityTimeout = 30 * time.Second
	defaultFetchWait         = 2 * time.Second
	defaultDuplicateWindow   = time.Hour
	subjectRoot              = "sagamatch.queue."
)

var queueNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds the configuration of a JetStream backed queue.
type Config struct {
	// URL is the NATS server URL.
	URL string
	// ConnName is the connection name reported to the server.
	ConnName string
	// Queue names the queue, e.g. new-saga. It derives the stream, the
	// subjects and the durable consumer.
	Queue string
	// VisibilityTimeout is the consumer ack wait.
	VisibilityTimeout time.Duration
	// FetchWait bounds how long Receive waits for a first message.
	FetchWait time.Duration
	// DuplicateWindow is how long deduplication ids are remembered.
	DuplicateWindow time.Duration
	// ConnectTimeout bounds the connection handshake.
	ConnectTimeout time.Duration
}

var _ validation.Validator = (*Config)(nil)

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("URL", c.URL)).
		AddAssertion(queueNamePattern.MatchString(c.Queue), "Queue must be alphanumeric, dashes or underscores").
		AddValidator(validation.NewPositiveDurationValidator("VisibilityTimeout", c.VisibilityTimeout)).
		AddValidator(validation.NewPositiveDurationValidator("FetchWait", c.FetchWait)).
		AddValidator(validation.NewPositiveDurationValidator("DuplicateWindow", c.DuplicateWindow)).
		AddValidator(validation.NewPositiveDurationValidator("ConnectTimeout", c.ConnectTimeout)).
		Validate()
}

// Sanitize sets defaults for empty fields.
func (c *Config) Sanitize() {
	if strings.TrimSpace(c.ConnName) == "" {
		c.ConnName = defaultConnName
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = defaultVisibilityTimeout
	}
	if c.FetchWait == 0 {
		c.FetchWait = defaultFetchWait
	}
	if c.DuplicateWindow == 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

func (c *Config) streamName() string           { return "sagamatch-" + c.Queue }
func (c *Config) deadLetterStreamName() string { return "sagamatch-" + c.Queue + "-dlq" }
func (c *Config) subject() string              { return subjectRoot + c.Queue }
func (c *Config) deadLetterSubject() string    { return subjectRoot + c.Queue + ".dlq" }
func (c *Config) durableName() string          { return c.Queue + "-consumer" }
