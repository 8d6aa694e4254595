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

package etcd

import (
	"context"
	"strings"
	"time"

	"github.com/tochemey/sagamatch/internal/validation"
)

const defaultNamespace = "/sagamatch"

// Config holds the configuration of the etcd store.
type Config struct {
	// Context is the base context of the client. Defaults to context.Background().
	Context context.Context
	// Endpoints are the etcd client URLs.
	Endpoints []string
	// Namespace prefixes every key. Defaults to /sagamatch.
	Namespace string
	// Username and Password enable authentication when set.
	Username string
	Password string
	// DialTimeout bounds the connection handshake.
	DialTimeout time.Duration
}

var _ validation.Validator = (*Config)(nil)

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddAssertion(len(c.Endpoints) > 0, "Endpoints are required").
		AddValidator(validation.NewEmptyStringValidator("Namespace", c.Namespace)).
		AddValidator(validation.NewPositiveDurationValidator("DialTimeout", c.DialTimeout)).
		Validate()
}

// Sanitize sets defaults for empty fields.
func (c *Config) Sanitize() {
	if c.Context == nil {
		c.Context = context.Background()
	}
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = defaultNamespace
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}

func normalizeNamespace(namespace string) string {
	return strings.TrimSuffix(strings.TrimSpace(namespace), "/") + "/"
}
