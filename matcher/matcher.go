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

// Package matcher reconciles the two artifacts of a saga.
//
// Handle processes one upload notification. It leases the announced
// artifact, records it as pending when its sibling is not uploaded yet, and
// otherwise leases the sibling, publishes the saga result and marks both
// artifacts completed. Leases are the only mutual exclusion: any number of
// matchers may run against the same store and queue.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tochemey/sagamatch/artifact"
	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/notification"
	"github.com/tochemey/sagamatch/queue"
	"github.com/tochemey/sagamatch/saga"
	"github.com/tochemey/sagamatch/telemetry"
)

const (
	// SpanName is the name of the span of one Handle call.
	SpanName = "sagamatch.match"
	// LoopName labels the matcher metrics.
	LoopName = "match"
)

// Defaults of the matcher options.
const (
	DefaultLeaseDuration  = 60 * time.Second
	DefaultReleaseTimeout = 5 * time.Second
	DefaultMaxDeliveries  = 5
)

// Dead-letter reasons.
const (
	ReasonMalformed        = "malformed"
	ReasonNotFound         = "not_found"
	ReasonMaxDeliveries    = "max_deliveries"
	ReasonForeignContainer = "foreign_container"
)

// Matcher reconciles sagas from upload notifications.
type Matcher struct {
	source     queue.Queue
	results    queue.Queue
	store      blobstore.Store
	repository saga.Repository
	decoder    *notification.Decoder
	container  string

	leaseDuration  time.Duration
	releaseTimeout time.Duration
	maxDeliveries  int

	publishAttempts     int
	publishInitialDelay time.Duration
	publishMaxDelay     time.Duration

	logger    log.Logger
	telemetry *telemetry.Telemetry
}

// New creates a Matcher that handles notifications received from source,
// reads and writes artifacts in store and publishes results to results.
func New(source queue.Queue, store blobstore.Store, results queue.Queue, opts ...Option) (*Matcher, error) {
	m := &Matcher{
		source:              source,
		results:             results,
		store:               store,
		repository:          saga.NewTagRepository(store),
		decoder:             notification.NewDecoder(notification.EncodingAuto),
		leaseDuration:       DefaultLeaseDuration,
		releaseTimeout:      DefaultReleaseTimeout,
		maxDeliveries:       DefaultMaxDeliveries,
		publishAttempts:     3,
		publishInitialDelay: 100 * time.Millisecond,
		publishMaxDelay:     time.Second,
		logger:              log.DefaultLogger,
	}

	for _, opt := range opts {
		opt.Apply(m)
	}

	if m.telemetry == nil {
		m.telemetry = telemetry.Default()
	}

	if err := validation.New(validation.FailFast()).
		AddAssertion(source != nil, "source queue is required").
		AddAssertion(results != nil, "results queue is required").
		AddAssertion(store != nil, "store is required").
		AddValidator(validation.NewPositiveDurationValidator("lease duration", m.leaseDuration)).
		AddValidator(validation.NewPositiveDurationValidator("release timeout", m.releaseTimeout)).
		AddAssertion(m.maxDeliveries >= 0, "max deliveries cannot be negative").
		AddAssertion(m.publishAttempts > 0, "publish attempts must be greater than 0").
		Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}
	return m, nil
}

// Handle processes one notification. The returned error is set only when the
// notification could not be processed and was left for redelivery;
// contention and lost leases are outcomes, not errors.
func (m *Matcher) Handle(ctx context.Context, msg *queue.Message) (outcome Outcome, err error) {
	ctx, span := m.telemetry.StartSpan(ctx, SpanName,
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

	logger := m.logger.With("message_id", msg.ID)

	if m.maxDeliveries > 0 && msg.DeliveryCount > m.maxDeliveries {
		return m.deadLetter(ctx, logger, msg, ReasonMaxDeliveries,
			fmt.Errorf("delivered %d times, limit is %d", msg.DeliveryCount, m.maxDeliveries))
	}

	primary, err := m.locate(msg)
	if err != nil {
		return m.deadLetter(ctx, logger, msg, ReasonMalformed, err)
	}

	if m.container != "" && primary.Container != m.container {
		return m.deadLetter(ctx, logger, msg, ReasonForeignContainer,
			fmt.Errorf("notification names container %q, serving %q", primary.Container, m.container))
	}

	span.SetAttributes(
		attribute.String("saga.location", primary.Location),
		attribute.String("saga.correlation_id", primary.CorrelationID))
	logger = logger.With("location", primary.Location, "correlation_id", primary.CorrelationID)

	outcome, err = m.reconcile(ctx, logger, primary)
	switch {
	case errors.Is(err, errPrimaryNotFound):
		// a fresh upload may not be readable yet
		if m.maxDeliveries > 0 && msg.DeliveryCount < m.maxDeliveries {
			return OutcomeFailed, err
		}
		return m.deadLetter(ctx, logger, msg, ReasonNotFound, err)
	case serrors.IsLostLease(err):
		logger.Warnf("transaction aborted, lease lost: %v", err)
		return OutcomeLeaseLost, nil
	case err != nil:
		return OutcomeFailed, err
	}

	if outcome.acknowledged() {
		if err := m.source.Delete(ctx, msg); err != nil {
			// the state is written; a redelivery finds it and short-circuits
			return outcome, fmt.Errorf("delete notification: %w", err)
		}
	}

	logger.Debugf("notification handled: %s", outcome)
	return outcome, nil
}

var errPrimaryNotFound = errors.New("announced artifact does not exist")

// reconcile runs the matching transaction. Every lease it takes is released
// before it returns.
func (m *Matcher) reconcile(ctx context.Context, logger log.Logger, primary *artifact.Artifact) (Outcome, error) {
	primaryLease, err := m.store.AcquireLease(ctx, primary.Location, m.leaseDuration)
	if err != nil {
		switch {
		case serrors.IsContention(err):
			return m.contended(ctx, logger, primary.Location), nil
		case errors.Is(err, serrors.ErrObjectNotFound):
			return OutcomeFailed, fmt.Errorf("%w: %w", errPrimaryNotFound, err)
		default:
			return OutcomeFailed, fmt.Errorf("lease %s: %w", primary.Location, err)
		}
	}
	defer m.release(ctx, logger, primaryLease)

	state, err := m.repository.Get(ctx, primary)
	if err != nil {
		return OutcomeFailed, err
	}
	if state.Completed() {
		return OutcomeAlreadyCompleted, nil
	}

	sibling := primary.Sibling()
	exists, err := m.store.Exists(ctx, sibling.Location)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check sibling %s: %w", sibling.Location, err)
	}
	if !exists {
		if err := m.repository.CompareAndSetWithLease(ctx, primaryLease, saga.StatusPending, state); err != nil {
			return OutcomeFailed, err
		}
		return OutcomePending, nil
	}

	siblingLease, err := m.store.AcquireLease(ctx, sibling.Location, m.leaseDuration)
	if err != nil {
		if serrors.IsContention(err) {
			return m.contended(ctx, logger, sibling.Location), nil
		}
		return OutcomeFailed, fmt.Errorf("lease sibling %s: %w", sibling.Location, err)
	}
	defer m.release(ctx, logger, siblingLease)

	siblingState, err := m.repository.Get(ctx, sibling)
	if err != nil {
		return OutcomeFailed, err
	}

	primaryDone := state.WithStatus(saga.StatusCompleted)
	if siblingState.Completed() {
		if err := m.repository.CompareAndSetWithLease(ctx, primaryLease, saga.StatusPending, primaryDone); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeRaceLost, nil
	}

	siblingDone := siblingState.WithStatus(saga.StatusCompleted)
	result, err := saga.NewResult(primary, primaryDone, sibling, siblingDone)
	if err != nil {
		return OutcomeFailed, err
	}

	// the result goes out first: a crash before the tags are written leads to
	// a redelivery that publishes again under the same deduplication id
	if err := m.publish(ctx, result); err != nil {
		return OutcomeFailed, err
	}
	if err := m.repository.CompareAndSetWithLease(ctx, siblingLease, saga.StatusPending, siblingDone); err != nil {
		return OutcomeFailed, err
	}
	if err := m.repository.CompareAndSetWithLease(ctx, primaryLease, saga.StatusPending, primaryDone); err != nil {
		return OutcomeFailed, err
	}

	m.telemetry.Metrics().SagaCompleted(ctx)
	logger.Infof("saga completed: order=%s payment=%s", result.OrderLocation, result.PaymentLocation)
	return OutcomeCompleted, nil
}

func (m *Matcher) locate(msg *queue.Message) (*artifact.Artifact, error) {
	n, err := m.decoder.Decode(msg.Body)
	if err != nil {
		return nil, err
	}
	return artifact.Parse(n.Subject)
}

func (m *Matcher) publish(ctx context.Context, result *saga.Result) error {
	body, err := result.Encode()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var final error
	retrier := retry.NewRetrier(m.publishAttempts, m.publishInitialDelay, m.publishMaxDelay)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		err := m.results.Send(ctx, body, queue.WithDeduplicationID(saga.DeduplicationID(result.CorrelationID())))
		if serrors.IsTransient(err) {
			return err
		}
		final = err
		return nil
	})
	if err == nil {
		err = final
	}
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// release gives a lease back on a context that survives the caller's
// cancellation. A failure is logged: the lease lapses on its own.
func (m *Matcher) release(ctx context.Context, logger log.Logger, lease *blobstore.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
	defer cancel()
	if err := m.store.ReleaseLease(releaseCtx, lease); err != nil {
		logger.Warnf("failed to release lease on %s: %v", lease.Location, err)
	}
}

func (m *Matcher) contended(ctx context.Context, logger log.Logger, location string) Outcome {
	m.telemetry.Metrics().LeaseContended(ctx)
	logger.Debugf("%s is leased by another worker", location)
	return OutcomeContended
}

func (m *Matcher) deadLetter(ctx context.Context, logger log.Logger, msg *queue.Message, reason string, cause error) (Outcome, error) {
	logger.Errorf("dead-lettering notification (%s): %v body=%q", reason, cause, msg.Body)
	if err := m.source.DeadLetter(ctx, msg, reason+": "+cause.Error()); err != nil {
		return OutcomeFailed, fmt.Errorf("dead-letter notification: %w", err)
	}
	m.telemetry.Metrics().MessageDeadLettered(ctx, reason)
	return OutcomeDeadLettered, nil
}
