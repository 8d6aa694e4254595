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
	defaultObjectBucket = "sagamatch_blobs"
	defaultMetaBucket   = "sagamatch_tags"
	defaultName         = "sagamatch-blobstore"
)

var bucketPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds the configuration of the NATS JetStream store.
type Config struct {
	// URL is the NATS server URL (e.g. nats://127.0.0.1:4222).
	URL string
	// Name is the connection name reported to the server.
	Name string
	// ObjectBucket is the object store bucket holding artifact bytes.
	ObjectBucket string
	// MetaBucket is the key value bucket holding tags and leases.
	MetaBucket string
	// ConnectTimeout bounds the connection handshake.
	ConnectTimeout time.Duration
	// MaxConflictRetries bounds the optimistic update loop on a hot record.
	MaxConflictRetries int
}

var _ validation.Validator = (*Config)(nil)

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("URL", c.URL)).
		AddAssertion(bucketPattern.MatchString(c.ObjectBucket), "ObjectBucket must be alphanumeric, dashes or underscores").
		AddAssertion(bucketPattern.MatchString(c.MetaBucket), "MetaBucket must be alphanumeric, dashes or underscores").
		AddAssertion(c.ObjectBucket != c.MetaBucket, "ObjectBucket and MetaBucket must differ").
		AddValidator(validation.NewPositiveDurationValidator("ConnectTimeout", c.ConnectTimeout)).
		AddAssertion(c.MaxConflictRetries > 0, "MaxConflictRetries must be greater than 0").
		Validate()
}

// Sanitize sets defaults for empty fields.
func (c *Config) Sanitize() {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = defaultName
	}
	if strings.TrimSpace(c.ObjectBucket) == "" {
		c.ObjectBucket = defaultObjectBucket
	}
	if strings.TrimSpace(c.MetaBucket) == "" {
		c.MetaBucket = defaultMetaBucket
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.MaxConflictRetries == 0 {
		c.MaxConflictRetries = 16
	}
}
