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

package poller

import (
	"time"

	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/telemetry"
)

// Defaults of the poller options.
const (
	DefaultBatchSize        = 10
	DefaultConcurrency      = 1
	DefaultIdleInterval     = 8 * time.Second
	DefaultOperationTimeout = 10 * time.Second
	DefaultDrainTimeout     = 30 * time.Second
)

type options struct {
	name             string
	batchSize        int
	concurrency      int
	idleInterval     time.Duration
	operationTimeout time.Duration
	drainTimeout     time.Duration
	logger           log.Logger
	telemetry        *telemetry.Telemetry
}

func defaultOptions() *options {
	return &options{
		name:             "poll",
		batchSize:        DefaultBatchSize,
		concurrency:      DefaultConcurrency,
		idleInterval:     DefaultIdleInterval,
		operationTimeout: DefaultOperationTimeout,
		drainTimeout:     DefaultDrainTimeout,
		logger:           log.DefaultLogger,
	}
}

// Option configures a Poller
type Option func(*options)

// WithName labels the loop in logs, spans and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBatchSize sets the maximum number of messages received per iteration.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithConcurrency sets how many messages of a batch are handled at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithIdleInterval sets the pause after an empty iteration.
func WithIdleInterval(d time.Duration) Option {
	return func(o *options) { o.idleInterval = d }
}

// WithOperationTimeout bounds the receive call and each message handling.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) { o.operationTimeout = d }
}

// WithDrainTimeout bounds how long in-flight messages may run once the loop
// is canceled.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry sets the tracer and meter.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = tel }
}
