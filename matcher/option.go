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

package matcher

import (
	"time"

	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/notification"
	"github.com/tochemey/sagamatch/saga"
	"github.com/tochemey/sagamatch/telemetry"
)

// Option configures the Matcher
type Option interface {
	// Apply sets the Option value of a config.
	Apply(m *Matcher)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(*Matcher)

// Apply implements Option.
func (f OptionFunc) Apply(m *Matcher) {
	f(m)
}

// WithLeaseDuration sets the bounded duration of every lease the matcher takes.
func WithLeaseDuration(d time.Duration) Option {
	return OptionFunc(func(m *Matcher) { m.leaseDuration = d })
}

// WithReleaseTimeout bounds a lease release. Releases run on a context
// detached from the caller's cancellation.
func WithReleaseTimeout(d time.Duration) Option {
	return OptionFunc(func(m *Matcher) { m.releaseTimeout = d })
}

// WithMaxDeliveries dead-letters notifications delivered more than n times.
// Zero disables the check.
func WithMaxDeliveries(n int) Option {
	return OptionFunc(func(m *Matcher) { m.maxDeliveries = n })
}

// WithContainer restricts the matcher to notifications for artifacts in
// container. Others are dead-lettered. An empty container accepts all.
func WithContainer(container string) Option {
	return OptionFunc(func(m *Matcher) { m.container = container })
}

// WithEncoding sets the encoding of notification bodies.
func WithEncoding(enc notification.Encoding) Option {
	return OptionFunc(func(m *Matcher) { m.decoder = notification.NewDecoder(enc) })
}

// WithRepository replaces the tag backed saga repository.
func WithRepository(repository saga.Repository) Option {
	return OptionFunc(func(m *Matcher) { m.repository = repository })
}

// WithPublishRetry sets the retry policy of result publication.
func WithPublishRetry(attempts int, initialDelay, maxDelay time.Duration) Option {
	return OptionFunc(func(m *Matcher) {
		m.publishAttempts = attempts
		m.publishInitialDelay = initialDelay
		m.publishMaxDelay = maxDelay
	})
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(m *Matcher) { m.logger = logger })
}

// WithTelemetry sets the tracer and meter.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return OptionFunc(func(m *Matcher) { m.telemetry = tel })
}
