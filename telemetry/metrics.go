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

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names
const (
	MessagesProcessedName    = "sagamatch.messages.processed"
	MessagesFailedName       = "sagamatch.messages.failed"
	MessagesDeadLetteredName = "sagamatch.messages.deadlettered"
	SagasCompletedName       = "sagamatch.sagas.completed"
	LeasesContendedName      = "sagamatch.leases.contended"
	PollIterationsName       = "sagamatch.poll.iterations"
	HandleDurationName       = "sagamatch.handle.duration"
)

// Metrics groups the coordinator instruments.
type Metrics struct {
	processed    metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	completed    metric.Int64Counter
	contended    metric.Int64Counter
	iterations   metric.Int64Counter
	duration     metric.Int64Histogram
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	metrics := new(Metrics)
	var err error

	if metrics.processed, err = meter.Int64Counter(
		MessagesProcessedName,
		metric.WithDescription("Total number of queue messages handled"),
	); err != nil {
		return nil, fmt.Errorf("failed to create processed instrument, %w", err)
	}

	if metrics.failed, err = meter.Int64Counter(
		MessagesFailedName,
		metric.WithDescription("Total number of messages whose handling returned an error"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failed instrument, %w", err)
	}

	if metrics.deadLettered, err = meter.Int64Counter(
		MessagesDeadLetteredName,
		metric.WithDescription("Total number of poison messages moved to the dead-letter queue"),
	); err != nil {
		return nil, fmt.Errorf("failed to create deadLettered instrument, %w", err)
	}

	if metrics.completed, err = meter.Int64Counter(
		SagasCompletedName,
		metric.WithDescription("Total number of saga results emitted"),
	); err != nil {
		return nil, fmt.Errorf("failed to create completed instrument, %w", err)
	}

	if metrics.contended, err = meter.Int64Counter(
		LeasesContendedName,
		metric.WithDescription("Total number of lease acquisitions refused because another worker holds the lease"),
	); err != nil {
		return nil, fmt.Errorf("failed to create contended instrument, %w", err)
	}

	if metrics.iterations, err = meter.Int64Counter(
		PollIterationsName,
		metric.WithDescription("Total number of poll loop iterations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create iterations instrument, %w", err)
	}

	if metrics.duration, err = meter.Int64Histogram(
		HandleDurationName,
		metric.WithDescription("Time spent handling one message in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration instrument, %w", err)
	}

	return metrics, nil
}

// MessageHandled records one handled message with its outcome and latency.
func (m *Metrics) MessageHandled(ctx context.Context, loop, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("loop", loop), attribute.String("outcome", outcome))
	m.processed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Milliseconds(), attrs)
}

// MessageFailed records one message whose handling returned an error.
func (m *Metrics) MessageFailed(ctx context.Context, loop string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}

// MessageDeadLettered records one poison message.
func (m *Metrics) MessageDeadLettered(ctx context.Context, reason string) {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SagaCompleted records one emitted saga result.
func (m *Metrics) SagaCompleted(ctx context.Context) {
	m.completed.Add(ctx, 1)
}

// LeaseContended records one refused lease acquisition.
func (m *Metrics) LeaseContended(ctx context.Context) {
	m.contended.Add(ctx, 1)
}

// PollIteration records one poll loop iteration.
func (m *Metrics) PollIteration(ctx context.Context, loop string) {
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}
