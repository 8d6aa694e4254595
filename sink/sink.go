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

// Package sink consumes the saga results published by the matcher.
package sink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/queue"
	"github.com/tochemey/sagamatch/saga"
	"github.com/tochemey/sagamatch/telemetry"
)

const (
	// SpanName is the name of the span of one handled result.
	SpanName = "sagamatch.report"
	// LoopName labels the result loop in metrics.
	LoopName = "results"
	// ReasonInvalidResult is the dead-letter reason of undecodable results.
	ReasonInvalidResult = "invalid_result"
)

// Outcome is what the sink did with a result message.
type Outcome int

const (
	// OutcomeFailed means the report or the delete failed. The message is
	// left for redelivery.
	OutcomeFailed Outcome = iota
	// OutcomeReported means the result was reported and the message deleted.
	OutcomeReported
	// OutcomeDeadLettered means the message did not hold a saga result.
	OutcomeDeadLettered
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeReported:
		return "reported"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "failed"
	}
}

// Completed reports whether the result was reported.
func (o Outcome) Completed() bool {
	return o == OutcomeReported
}

// ReportFunc receives every decoded saga result.
type ReportFunc func(ctx context.Context, result *saga.Result) error

// LogReport returns a ReportFunc writing one log line per result.
func LogReport(logger log.Logger) ReportFunc {
	return func(_ context.Context, result *saga.Result) error {
		logger.With(
			"correlation_id", result.CorrelationID(),
			"order_location", result.OrderLocation,
			"payment_location", result.PaymentLocation,
		).Info("saga completed")
		return nil
	}
}

// Option configures the Sink
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithTelemetry sets the tracer and meter.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Sink) { s.telemetry = tel }
}

// Sink handles the messages of the result queue.
type Sink struct {
	source    queue.Queue
	report    ReportFunc
	logger    log.Logger
	telemetry *telemetry.Telemetry
}

// New creates a Sink over source. A nil report logs each result.
func New(source queue.Queue, report ReportFunc, opts ...Option) (*Sink, error) {
	sink := &Sink{
		source: source,
		report: report,
		logger: log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(sink)
	}
	if sink.telemetry == nil {
		sink.telemetry = telemetry.Default()
	}
	if sink.report == nil {
		sink.report = LogReport(sink.logger)
	}

	if err := validation.New(validation.FailFast()).
		AddAssertion(source != nil, "result queue is required").
		AddAssertion(sink.logger != nil, "logger is required").
		Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}
	return sink, nil
}

// Handle reports one result message.
func (s *Sink) Handle(ctx context.Context, msg *queue.Message) (outcome Outcome, err error) {
	ctx, span := s.telemetry.StartSpan(ctx, SpanName,
		attribute.String("message.id", msg.ID),
		attribute.Int("message.delivery_count", msg.DeliveryCount))
	defer func() {
		span.SetAttributes(attribute.String("saga.outcome", outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	result, err := saga.DecodeResult(msg.Body)
	if err != nil {
		s.logger.With("message_id", msg.ID).Warnf("dropping result message: %v", err)
		if dlqErr := s.source.DeadLetter(ctx, msg, ReasonInvalidResult+": "+err.Error()); dlqErr != nil {
			return OutcomeFailed, fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, dlqErr)
		}
		s.telemetry.Metrics().MessageDeadLettered(ctx, ReasonInvalidResult)
		return OutcomeDeadLettered, nil
	}
	span.SetAttributes(attribute.String("saga.correlation_id", result.CorrelationID()))

	if err := s.report(ctx, result); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to report saga %s: %w", result.CorrelationID(), err)
	}

	if err := s.source.Delete(ctx, msg); err != nil {
		// the result was reported, a redelivery reports it again
		return OutcomeFailed, fmt.Errorf("failed to delete result message %s: %w", msg.ID, err)
	}
	return OutcomeReported, nil
}
