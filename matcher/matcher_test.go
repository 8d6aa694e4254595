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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/tochemey/sagamatch/artifact"
	"github.com/tochemey/sagamatch/blobstore"
	bmemory "github.com/tochemey/sagamatch/blobstore/memory"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/notification"
	"github.com/tochemey/sagamatch/queue"
	qmemory "github.com/tochemey/sagamatch/queue/memory"
	"github.com/tochemey/sagamatch/saga"
	"github.com/tochemey/sagamatch/telemetry"
	"github.com/tochemey/sagamatch/telemetry/telemetrytest"
)

const (
	container       = "sales"
	orderLocation   = "2024/05/order_1000_ABC.json"
	paymentLocation = "2024/05/payment_1000_ABC.json"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingQueue counts the messages handed to the wrapped queue.
type countingQueue struct {
	queue.Queue
	sends *atomic.Int64
	fail  *atomic.Int64
}

func newCountingQueue(q queue.Queue) *countingQueue {
	return &countingQueue{Queue: q, sends: atomic.NewInt64(0), fail: atomic.NewInt64(0)}
}

func (q *countingQueue) Send(ctx context.Context, body []byte, opts ...queue.SendOption) error {
	q.sends.Inc()
	if q.fail.Load() > 0 {
		q.fail.Dec()
		return errors.New("broker unavailable")
	}
	return q.Queue.Send(ctx, body, opts...)
}

type testEnv struct {
	store    *bmemory.Store
	source   *qmemory.Queue
	results  *countingQueue
	sink     *qmemory.Queue
	recorder *telemetrytest.Recorder
	matcher  *Matcher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    bmemory.NewStore(),
		source:   qmemory.New(qmemory.WithVisibilityTimeout(time.Minute)),
		sink:     qmemory.New(),
		recorder: telemetrytest.New(t),
	}
	env.results = newCountingQueue(env.sink)

	opts = append([]Option{
		WithContainer(container),
		WithLogger(log.DiscardLogger),
		WithTelemetry(env.recorder.Telemetry),
		WithPublishRetry(3, time.Millisecond, time.Millisecond),
	}, opts...)

	m, err := New(env.source, env.store, env.results, opts...)
	require.NoError(t, err)
	env.matcher = m
	return env
}

func (e *testEnv) upload(t *testing.T, location string) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), location, []byte("{}"), nil))
}

func (e *testEnv) notify(t *testing.T, location string) {
	t.Helper()
	body, err := notification.Encode(artifact.Subject(container, location), notification.EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, e.source.Send(context.Background(), body))
}

func (e *testEnv) handleNext(t *testing.T) (Outcome, error) {
	t.Helper()
	messages, err := e.source.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	return e.matcher.Handle(context.Background(), messages[0])
}

func (e *testEnv) status(t *testing.T, location string) string {
	t.Helper()
	tags, err := e.store.GetTags(context.Background(), location)
	require.NoError(t, err)
	return tags[saga.TagStatus]
}

func (e *testEnv) published(t *testing.T) []*saga.Result {
	t.Helper()
	var results []*saga.Result
	for _, body := range e.sink.Bodies() {
		result, err := saga.DecodeResult(body)
		require.NoError(t, err)
		results = append(results, result)
	}
	return results
}

func TestNew(t *testing.T) {
	store := bmemory.NewStore()
	q := qmemory.New()

	_, err := New(nil, store, q)
	require.ErrorIs(t, err, serrors.ErrInvalidConfig)

	_, err = New(q, store, q, WithLeaseDuration(blobstore.InfiniteLease))
	require.ErrorIs(t, err, serrors.ErrInvalidConfig)

	_, err = New(q, store, q, WithPublishRetry(0, time.Millisecond, time.Millisecond))
	require.ErrorIs(t, err, serrors.ErrInvalidConfig)

	m, err := New(q, store, q, WithTelemetry(telemetry.Default()))
	require.NoError(t, err)
	assert.Equal(t, DefaultLeaseDuration, m.leaseDuration)
	assert.Equal(t, DefaultMaxDeliveries, m.maxDeliveries)
}

func TestHandle(t *testing.T) {
	t.Run("With the upload scenario", func(t *testing.T) {
		env := newTestEnv(t)

		env.upload(t, orderLocation)
		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Equal(t, "pending", env.status(t, orderLocation))
		assert.Empty(t, env.published(t))
		assert.Zero(t, env.source.Len())

		tags, err := env.store.GetTags(context.Background(), orderLocation)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"type": "order", "status": "pending", "id": "ABC", "ts": "1000"}, tags)

		env.upload(t, paymentLocation)
		env.notify(t, paymentLocation)
		outcome, err = env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
		assert.True(t, outcome.Completed())
		assert.Equal(t, "completed", env.status(t, orderLocation))
		assert.Equal(t, "completed", env.status(t, paymentLocation))

		results := env.published(t)
		require.Len(t, results, 1)
		assert.Equal(t, orderLocation, results[0].OrderLocation)
		assert.Equal(t, paymentLocation, results[0].PaymentLocation)
		assert.Equal(t, "ABC", results[0].CorrelationID())
		assert.Equal(t, saga.StatusCompleted, results[0].Sagas[0].Status)

		for _, location := range []string{orderLocation, paymentLocation} {
			env.notify(t, location)
			outcome, err = env.handleNext(t)
			require.NoError(t, err)
			assert.Equal(t, OutcomeAlreadyCompleted, outcome)
		}
		assert.Len(t, env.published(t), 1)
		assert.EqualValues(t, 1, env.results.sends.Load())
		assert.Zero(t, env.source.Len())
		assert.EqualValues(t, 1, env.recorder.Counter(t, telemetry.SagasCompletedName))

		// both leases were released
		for _, location := range []string{orderLocation, paymentLocation} {
			lease, err := env.store.AcquireLease(context.Background(), location, time.Minute)
			require.NoError(t, err)
			require.NoError(t, env.store.ReleaseLease(context.Background(), lease))
		}
	})

	t.Run("With payment notified first", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, paymentLocation)
		env.notify(t, paymentLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)

		env.upload(t, orderLocation)
		env.notify(t, orderLocation)
		outcome, err = env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)

		results := env.published(t)
		require.Len(t, results, 1)
		assert.Equal(t, orderLocation, results[0].OrderLocation)
		assert.Equal(t, paymentLocation, results[0].PaymentLocation)
		assert.Equal(t, artifact.Order, results[0].Sagas[0].Type)
		assert.Equal(t, artifact.Payment, results[0].Sagas[1].Type)
	})

	t.Run("With both artifacts uploaded before any notification", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)
		env.notify(t, orderLocation)
		env.notify(t, paymentLocation)

		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
		outcome, err = env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, outcome)
		assert.Len(t, env.published(t), 1)
	})

	t.Run("With the primary leased elsewhere", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.upload(t, orderLocation)
		lease, err := env.store.AcquireLease(ctx, orderLocation, time.Minute)
		require.NoError(t, err)

		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeContended, outcome)
		assert.Equal(t, 1, env.source.Len())
		assert.Empty(t, env.status(t, orderLocation))
		assert.EqualValues(t, 1, env.recorder.Counter(t, telemetry.LeasesContendedName))
		require.NoError(t, env.store.ReleaseLease(ctx, lease))
	})

	t.Run("With the sibling leased elsewhere", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)
		lease, err := env.store.AcquireLease(ctx, paymentLocation, time.Minute)
		require.NoError(t, err)

		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeContended, outcome)
		assert.Equal(t, 1, env.source.Len())
		assert.Empty(t, env.published(t))

		// the primary lease was given back
		primary, err := env.store.AcquireLease(ctx, orderLocation, time.Minute)
		require.NoError(t, err)
		require.NoError(t, env.store.ReleaseLease(ctx, primary))
		require.NoError(t, env.store.ReleaseLease(ctx, lease))
	})

	t.Run("With the sibling completed by another worker", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)

		lease, err := env.store.AcquireLease(ctx, paymentLocation, time.Minute)
		require.NoError(t, err)
		done := map[string]string{"type": "payment", "status": "completed", "id": "ABC", "ts": "1000"}
		require.NoError(t, env.store.SetTags(ctx, paymentLocation, done, lease))
		require.NoError(t, env.store.ReleaseLease(ctx, lease))

		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRaceLost, outcome)
		assert.False(t, outcome.Completed())
		assert.Equal(t, "completed", env.status(t, orderLocation))
		assert.Empty(t, env.published(t))
		assert.Zero(t, env.source.Len())
	})

	t.Run("With malformed notifications", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		require.NoError(t, env.source.Send(ctx, []byte("not a notification")))
		require.NoError(t, env.source.Send(ctx, []byte(`{"subject": "/blobServices/default/order_1_x.json"}`)))
		require.NoError(t, env.source.Send(ctx, []byte(`{"subject": "/blobServices/default/containers/sales/blobs/2024/invoice_1_x.json"}`)))

		for range 3 {
			outcome, err := env.handleNext(t)
			require.NoError(t, err)
			assert.Equal(t, OutcomeDeadLettered, outcome)
		}

		assert.Zero(t, env.source.Len())
		deadLetters := env.source.DeadLetters()
		require.Len(t, deadLetters, 3)
		for _, letter := range deadLetters {
			assert.Contains(t, letter.Reason, ReasonMalformed)
		}
		assert.EqualValues(t, 3, env.recorder.Counter(t, telemetry.MessagesDeadLetteredName))
	})

	t.Run("With a notification about a missing artifact", func(t *testing.T) {
		env := newTestEnv(t, WithMaxDeliveries(2))
		ctx := context.Background()
		clock := time.Now()
		source := qmemory.New(qmemory.WithVisibilityTimeout(time.Second), qmemory.WithClock(func() time.Time { return clock }))
		env.matcher.source = source

		body, err := notification.Encode(artifact.Subject(container, orderLocation), notification.EncodingJSON)
		require.NoError(t, err)
		require.NoError(t, source.Send(ctx, body))

		// left for redelivery while the upload may still become readable
		messages, err := source.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		outcome, err := env.matcher.Handle(ctx, messages[0])
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, 1, source.Len())
		assert.Empty(t, source.DeadLetters())

		clock = clock.Add(2 * time.Second)
		messages, err = source.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		require.Equal(t, 2, messages[0].DeliveryCount)

		outcome, err = env.matcher.Handle(ctx, messages[0])
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeadLettered, outcome)
		assert.Zero(t, source.Len())
		deadLetters := source.DeadLetters()
		require.Len(t, deadLetters, 1)
		assert.Contains(t, deadLetters[0].Reason, ReasonNotFound)
	})

	t.Run("With an artifact readable on redelivery", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		clock := time.Now()
		source := qmemory.New(qmemory.WithVisibilityTimeout(time.Second), qmemory.WithClock(func() time.Time { return clock }))
		env.matcher.source = source

		body, err := notification.Encode(artifact.Subject(container, orderLocation), notification.EncodingJSON)
		require.NoError(t, err)
		require.NoError(t, source.Send(ctx, body))

		messages, err := source.Receive(ctx, 1)
		require.NoError(t, err)
		outcome, err := env.matcher.Handle(ctx, messages[0])
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)

		env.upload(t, orderLocation)
		clock = clock.Add(2 * time.Second)
		messages, err = source.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		outcome, err = env.matcher.Handle(ctx, messages[0])
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Equal(t, "pending", env.status(t, orderLocation))
		assert.Zero(t, source.Len())
		assert.Empty(t, source.DeadLetters())
	})

	t.Run("With a notification for another container", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)

		body, err := notification.Encode(artifact.Subject("someone-elses-container", paymentLocation), notification.EncodingJSON)
		require.NoError(t, err)
		require.NoError(t, env.source.Send(context.Background(), body))

		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeadLettered, outcome)
		assert.Empty(t, env.status(t, orderLocation))
		assert.Empty(t, env.status(t, paymentLocation))
		assert.Empty(t, env.published(t))
		assert.Zero(t, env.results.sends.Load())
		assert.Zero(t, env.source.Len())

		deadLetters := env.source.DeadLetters()
		require.Len(t, deadLetters, 1)
		assert.True(t, strings.HasPrefix(deadLetters[0].Reason, ReasonForeignContainer))
		assert.Contains(t, deadLetters[0].Reason, "someone-elses-container")
	})

	t.Run("Without a container restriction", func(t *testing.T) {
		env := newTestEnv(t, WithContainer(""))
		env.upload(t, orderLocation)

		body, err := notification.Encode(artifact.Subject("archive", orderLocation), notification.EncodingJSON)
		require.NoError(t, err)
		require.NoError(t, env.source.Send(context.Background(), body))

		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Empty(t, env.source.DeadLetters())
	})

	t.Run("With too many deliveries", func(t *testing.T) {
		env := newTestEnv(t, WithMaxDeliveries(1))
		ctx := context.Background()
		clock := time.Now()
		source := qmemory.New(qmemory.WithVisibilityTimeout(time.Second), qmemory.WithClock(func() time.Time { return clock }))
		env.matcher.source = source

		env.upload(t, orderLocation)
		body, err := notification.Encode(artifact.Subject(container, orderLocation), notification.EncodingBase64)
		require.NoError(t, err)
		require.NoError(t, source.Send(ctx, body))

		_, err = source.Receive(ctx, 1)
		require.NoError(t, err)
		clock = clock.Add(2 * time.Second)
		messages, err := source.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		require.Equal(t, 2, messages[0].DeliveryCount)

		outcome, err := env.matcher.Handle(ctx, messages[0])
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeadLettered, outcome)
		require.Len(t, source.DeadLetters(), 1)
		assert.Contains(t, source.DeadLetters()[0].Reason, ReasonMaxDeliveries)
		assert.Empty(t, env.status(t, orderLocation))
	})

	t.Run("With a failing result queue", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)
		env.results.fail.Store(100)

		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.GreaterOrEqual(t, env.results.sends.Load(), int64(2))
		assert.Empty(t, env.published(t))
		assert.Equal(t, 1, env.source.Len())
		assert.Empty(t, env.status(t, orderLocation))
		assert.Empty(t, env.status(t, paymentLocation))

		// a fresh delivery succeeds once the broker is back
		env.results.fail.Store(0)
		env.notify(t, paymentLocation)
		outcome, err = env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
		assert.Len(t, env.published(t), 1)
	})

	t.Run("With a transient publish failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, orderLocation)
		env.upload(t, paymentLocation)
		env.results.fail.Store(1)

		env.notify(t, paymentLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
		assert.EqualValues(t, 2, env.results.sends.Load())
		assert.Len(t, env.published(t), 1)
	})

	t.Run("With a lease lost mid-transaction", func(t *testing.T) {
		env := newTestEnv(t)
		env.matcher.repository = &losingRepository{Repository: saga.NewTagRepository(env.store)}
		env.upload(t, orderLocation)

		env.notify(t, orderLocation)
		outcome, err := env.handleNext(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeLeaseLost, outcome)
		assert.Equal(t, 1, env.source.Len())
	})

	t.Run("With tracing", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, orderLocation)
		env.notify(t, orderLocation)
		_, err := env.handleNext(t)
		require.NoError(t, err)

		spans := env.recorder.Spans.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, SpanName, spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.String("saga.location", orderLocation))
		assert.Contains(t, spans[0].Attributes(), attribute.String("saga.correlation_id", "ABC"))
		assert.Contains(t, spans[0].Attributes(), attribute.String("saga.outcome", "pending"))
	})
}

// losingRepository behaves as if every lease lapsed before the write.
type losingRepository struct {
	saga.Repository
}

func (r *losingRepository) CompareAndSetWithLease(context.Context, *blobstore.Lease, saga.Status, *saga.State) error {
	return serrors.ErrLeaseExpired
}

func TestHandleConcurrentWorkers(t *testing.T) {
	env := newTestEnv(t)
	env.source = qmemory.New(qmemory.WithVisibilityTimeout(50 * time.Millisecond))
	env.matcher.source = env.source

	env.upload(t, orderLocation)
	env.upload(t, paymentLocation)
	for range 3 {
		env.notify(t, orderLocation)
		env.notify(t, paymentLocation)
	}

	const workers = 4
	var wg sync.WaitGroup
	wg.Add(workers)
	deadline := time.Now().Add(10 * time.Second)
	for range workers {
		go func() {
			defer wg.Done()
			for env.source.Len() > 0 && time.Now().Before(deadline) {
				messages, err := env.source.Receive(context.Background(), 1)
				if err != nil || len(messages) == 0 {
					time.Sleep(5 * time.Millisecond)
					continue
				}
				_, _ = env.matcher.Handle(context.Background(), messages[0])
			}
		}()
	}
	wg.Wait()

	require.Zero(t, env.source.Len())
	assert.EqualValues(t, 1, env.results.sends.Load())
	assert.Len(t, env.published(t), 1)
	assert.Equal(t, "completed", env.status(t, orderLocation))
	assert.Equal(t, "completed", env.status(t, paymentLocation))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "already_completed", OutcomeAlreadyCompleted.String())
	assert.Equal(t, "race_lost", OutcomeRaceLost.String())
	assert.Equal(t, "contended", OutcomeContended.String())
	assert.Equal(t, "lease_lost", OutcomeLeaseLost.String())
	assert.Equal(t, "dead_lettered", OutcomeDeadLettered.String())
}
