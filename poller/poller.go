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

// Package poller drives a message handler over a queue.
//
// Each iteration receives a batch, handles it with bounded concurrency and
// polls again at once when the batch was not empty. After an empty batch
// the loop sleeps for the idle interval. One span covers each iteration.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/queue"
	"github.com/tochemey/sagamatch/telemetry"
)

// SpanName is the name of the span of one iteration.
const SpanName = "sagamatch.poll"

// Outcome is what a handler did with a message.
type Outcome interface {
	String() string
	// Completed reports whether the message completed a unit of work, a saga
	// match or a reported result.
	Completed() bool
}

// Handler handles one message. It owns the message: deleting it, leaving
// it for redelivery or dead-lettering it.
type Handler[O Outcome] interface {
	Handle(ctx context.Context, msg *queue.Message) (O, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[O Outcome] func(ctx context.Context, msg *queue.Message) (O, error)

// Handle implements Handler.
func (f HandlerFunc[O]) Handle(ctx context.Context, msg *queue.Message) (O, error) {
	return f(ctx, msg)
}

// Stats describes one iteration.
type Stats struct {
	Iteration int64
	Messages  int
	Completed int
	Failed    int
}

// Poller is the poll loop.
type Poller[O Outcome] struct {
	*options
	source  queue.Queue
	handler Handler[O]

	started        *atomic.Bool
	iterations     *atomic.Int64
	totalMessages  *atomic.Int64
	totalCompleted *atomic.Int64
	totalFailed    *atomic.Int64
}

// New creates a Poller feeding handler with the messages of source.
func New[O Outcome](source queue.Queue, handler Handler[O], opts ...Option) (*Poller[O], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.Default()
	}

	if err := validation.New(validation.FailFast()).
		AddAssertion(source != nil, "source queue is required").
		AddAssertion(handler != nil, "handler is required").
		AddAssertion(o.batchSize > 0, "batch size must be greater than 0").
		AddAssertion(o.concurrency > 0, "concurrency must be greater than 0").
		AddValidator(validation.NewPositiveDurationValidator("idle interval", o.idleInterval)).
		AddValidator(validation.NewPositiveDurationValidator("operation timeout", o.operationTimeout)).
		AddValidator(validation.NewPositiveDurationValidator("drain timeout", o.drainTimeout)).
		Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}

	return &Poller[O]{
		options:        o,
		source:         source,
		handler:        handler,
		started:        atomic.NewBool(false),
		iterations:     atomic.NewInt64(0),
		totalMessages:  atomic.NewInt64(0),
		totalCompleted: atomic.NewInt64(0),
		totalFailed:    atomic.NewInt64(0),
	}, nil
}

// Run polls until ctx is canceled, then waits for the in-flight messages and
// returns nil. It returns early only when the queue is closed.
func (p *Poller[O]) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return serrors.ErrPollerStarted
	}
	defer p.started.Store(false)

	p.logger.Infof("%s loop started", p.name)
	defer p.logger.Infof("%s loop stopped after %d iterations, %d messages, %d completed",
		p.name, p.iterations.Load(), p.totalMessages.Load(), p.totalCompleted.Load())

	idle := time.NewTimer(p.idleInterval)
	idle.Stop()
	defer idle.Stop()

	for ctx.Err() == nil {
		stats, err := p.Iterate(ctx)
		if err != nil {
			return err
		}
		if stats.Messages > 0 {
			continue
		}

		idle.Reset(p.idleInterval)
		select {
		case <-ctx.Done():
		case <-idle.C:
		}
	}
	return nil
}

// Iterate runs one iteration. Receive failures are logged and count as an
// empty batch. Only a closed queue is returned as an error.
func (p *Poller[O]) Iterate(ctx context.Context) (Stats, error) {
	stats := Stats{Iteration: p.iterations.Inc()}
	ctx, span := p.telemetry.StartSpan(ctx, SpanName,
		attribute.String("poll.loop", p.name),
		attribute.Int64("poll.iteration", stats.Iteration))
	defer func() {
		span.SetAttributes(
			attribute.Int("poll.messages", stats.Messages),
			attribute.Int("poll.completed", stats.Completed),
			attribute.Int("poll.failed", stats.Failed))
		span.End()
	}()
	p.telemetry.Metrics().PollIteration(ctx, p.name)

	receiveCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	messages, err := p.source.Receive(receiveCtx, p.batchSize)
	cancel()
	if err != nil {
		if errors.Is(err, serrors.ErrQueueClosed) {
			return stats, err
		}
		if ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Errorf("%s loop failed to receive messages: %v", p.name, err)
		}
		return stats, nil
	}

	completed, failed := p.dispatch(ctx, messages)
	stats.Messages = len(messages)
	stats.Completed = int(completed)
	stats.Failed = int(failed)

	p.totalMessages.Add(int64(stats.Messages))
	p.totalCompleted.Add(completed)
	p.totalFailed.Add(failed)
	return stats, nil
}

// dispatch handles messages with bounded concurrency. Handlers run on a
// context detached from ctx: once ctx is canceled no new message starts and
// the running ones get the drain timeout to finish.
func (p *Poller[O]) dispatch(ctx context.Context, messages []*queue.Message) (completed, failed int64) {
	if len(messages) == 0 {
		return 0, 0
	}

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	stopDrain := context.AfterFunc(ctx, func() {
		drain := time.NewTimer(p.drainTimeout)
		defer drain.Stop()
		select {
		case <-drain.C:
			cancelHandlers()
		case <-handlerCtx.Done():
		}
	})
	defer stopDrain()

	var completedCount, failedCount atomic.Int64
	group := new(errgroup.Group)
	group.SetLimit(p.concurrency)
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			done, err := p.handle(handlerCtx, msg)
			if err != nil {
				failedCount.Inc()
			}
			if done {
				completedCount.Inc()
			}
			return nil
		})
	}
	_ = group.Wait()
	return completedCount.Load(), failedCount.Load()
}

// handle runs the handler on one message. A panic counts as a failure.
func (p *Poller[O]) handle(ctx context.Context, msg *queue.Message) (completed bool, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()

	outcome := "panic"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
		if err != nil {
			p.telemetry.Metrics().MessageFailed(ctx, p.name)
			p.logger.With("message_id", msg.ID, "delivery_count", msg.DeliveryCount).
				Errorf("%s loop failed to handle message: %v", p.name, err)
		}
		p.telemetry.Metrics().MessageHandled(ctx, p.name, outcome, time.Since(start))
	}()

	result, err := p.handler.Handle(ctx, msg)
	outcome = result.String()
	return result.Completed(), err
}

// Iterations returns the number of iterations run so far.
func (p *Poller[O]) Iterations() int64 {
	return p.iterations.Load()
}

// TotalMessages returns the number of messages received so far.
func (p *Poller[O]) TotalMessages() int64 {
	return p.totalMessages.Load()
}

// TotalCompleted returns the number of messages whose outcome completed a unit of work.
func (p *Poller[O]) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// TotalFailed returns the number of messages whose handling failed.
func (p *Poller[O]) TotalFailed() int64 {
	return p.totalFailed.Load()
}
