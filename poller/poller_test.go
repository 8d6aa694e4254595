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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/queue"
	qmemory "github.com/tochemey/sagamatch/queue/memory"
	"github.com/tochemey/sagamatch/telemetry"
	"github.com/tochemey/sagamatch/telemetry/telemetrytest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type result string

func (r result) String() string  { return string(r) }
func (r result) Completed() bool { return r == "done" }

// deleting acknowledges every message it handles.
func deleting(q queue.Queue) HandlerFunc[result] {
	return func(ctx context.Context, msg *queue.Message) (result, error) {
		if err := q.Delete(ctx, msg); err != nil {
			return "failed", err
		}
		return "done", nil
	}
}

// brokenQueue fails every receive.
type brokenQueue struct {
	queue.Queue
	receives *atomic.Int64
}

func (q *brokenQueue) Receive(context.Context, int) ([]*queue.Message, error) {
	q.receives.Inc()
	return nil, errors.New("connection reset")
}

func fill(t *testing.T, q queue.Queue, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, q.Send(context.Background(), []byte(fmt.Sprintf("message-%d", i))))
	}
}

func TestNew(t *testing.T) {
	q := qmemory.New()
	handler := deleting(q)

	testCases := []struct {
		name    string
		source  queue.Queue
		handler Handler[result]
		opts    []Option
	}{
		{name: "without source", handler: handler},
		{name: "without handler", source: q},
		{name: "with zero batch size", source: q, handler: handler, opts: []Option{WithBatchSize(0)}},
		{name: "with zero concurrency", source: q, handler: handler, opts: []Option{WithConcurrency(0)}},
		{name: "with zero idle interval", source: q, handler: handler, opts: []Option{WithIdleInterval(0)}},
		{name: "with negative operation timeout", source: q, handler: handler, opts: []Option{WithOperationTimeout(-time.Second)}},
		{name: "with zero drain timeout", source: q, handler: handler, opts: []Option{WithDrainTimeout(0)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New[result](tc.source, tc.handler, tc.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, serrors.ErrInvalidConfig)
			assert.Nil(t, p)
		})
	}

	t.Run("With defaults", func(t *testing.T) {
		p, err := New[result](q, handler)
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, p.batchSize)
		assert.Equal(t, DefaultConcurrency, p.concurrency)
		assert.Equal(t, DefaultIdleInterval, p.idleInterval)
		assert.NotNil(t, p.telemetry)
	})
}

func TestIterate(t *testing.T) {
	t.Run("With a full batch", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 3)
		recorder := telemetrytest.New(t)

		p, err := New[result](q, deleting(q),
			WithName("test"),
			WithLogger(log.DiscardLogger),
			WithTelemetry(recorder.Telemetry))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Stats{Iteration: 1, Messages: 3, Completed: 3}, stats)
		assert.Zero(t, q.Len())

		assert.EqualValues(t, 1, p.Iterations())
		assert.EqualValues(t, 3, p.TotalMessages())
		assert.EqualValues(t, 3, p.TotalCompleted())
		assert.Zero(t, p.TotalFailed())

		assert.Equal(t, []string{SpanName}, recorder.SpanNames())
		assert.EqualValues(t, 1, recorder.Counter(t, telemetry.PollIterationsName))
		assert.EqualValues(t, 3, recorder.Counter(t, telemetry.MessagesProcessedName))
	})
	t.Run("With a batch larger than the batch size", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 5)

		p, err := New[result](q, deleting(q), WithBatchSize(2), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Messages)
		assert.Equal(t, 3, q.Len())
	})
	t.Run("With an empty queue", func(t *testing.T) {
		q := qmemory.New()
		p, err := New[result](q, deleting(q), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Stats{Iteration: 1}, stats)
	})
	t.Run("With failing handlers", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 2)
		recorder := telemetrytest.New(t)

		handler := HandlerFunc[result](func(context.Context, *queue.Message) (result, error) {
			return "failed", errors.New("tag store unavailable")
		})
		p, err := New[result](q, handler, WithLogger(log.DiscardLogger), WithTelemetry(recorder.Telemetry))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Stats{Iteration: 1, Messages: 2, Failed: 2}, stats)
		assert.Equal(t, 2, q.Len())
		assert.EqualValues(t, 2, p.TotalFailed())
		assert.EqualValues(t, 2, recorder.Counter(t, telemetry.MessagesFailedName))
	})
	t.Run("With a panicking handler", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 1)

		handler := HandlerFunc[result](func(context.Context, *queue.Message) (result, error) {
			panic("boom")
		})
		p, err := New[result](q, handler, WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, q.Len())
	})
	t.Run("With a failing receive", func(t *testing.T) {
		q := &brokenQueue{Queue: qmemory.New(), receives: atomic.NewInt64(0)}
		p, err := New[result](q, deleting(q), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		stats, err := p.Iterate(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Messages)
		assert.EqualValues(t, 1, q.receives.Load())
	})
	t.Run("With a closed queue", func(t *testing.T) {
		q := qmemory.New()
		require.NoError(t, q.Close())
		p, err := New[result](q, deleting(q), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		_, err = p.Iterate(context.Background())
		require.ErrorIs(t, err, serrors.ErrQueueClosed)
	})
	t.Run("With bounded concurrency", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 6)

		inFlight := atomic.NewInt64(0)
		peak := atomic.NewInt64(0)
		release := make(chan struct{})
		handler := HandlerFunc[result](func(ctx context.Context, msg *queue.Message) (result, error) {
			current := inFlight.Inc()
			defer inFlight.Dec()
			for {
				seen := peak.Load()
				if current <= seen || peak.CompareAndSwap(seen, current) {
					break
				}
			}
			<-release
			return deleting(q)(ctx, msg)
		})

		p, err := New[result](q, handler, WithConcurrency(3), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		done := make(chan Stats, 1)
		go func() {
			stats, _ := p.Iterate(context.Background())
			done <- stats
		}()

		require.Eventually(t, func() bool { return inFlight.Load() == 3 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.EqualValues(t, 3, inFlight.Load())
		close(release)

		stats := <-done
		assert.Equal(t, 6, stats.Completed)
		assert.EqualValues(t, 3, peak.Load())
	})
}

func TestRun(t *testing.T) {
	t.Run("Drains the queue then stops on cancellation", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 25)

		p, err := New[result](q, deleting(q),
			WithBatchSize(10),
			WithIdleInterval(10*time.Millisecond),
			WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- p.Run(ctx) }()

		require.Eventually(t, func() bool { return p.TotalCompleted() == 25 }, 2*time.Second, 5*time.Millisecond)
		// idle iterations keep polling
		require.Eventually(t, func() bool { return p.Iterations() > 4 }, 2*time.Second, 5*time.Millisecond)

		cancel()
		require.NoError(t, <-errc)
		assert.Zero(t, q.Len())
		assert.EqualValues(t, 25, p.TotalMessages())
	})
	t.Run("Refuses to start twice", func(t *testing.T) {
		q := qmemory.New()
		p, err := New[result](q, deleting(q), WithIdleInterval(10*time.Millisecond), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- p.Run(ctx) }()
		require.Eventually(t, func() bool { return p.Iterations() > 0 }, time.Second, 5*time.Millisecond)

		require.ErrorIs(t, p.Run(ctx), serrors.ErrPollerStarted)

		cancel()
		require.NoError(t, <-errc)
	})
	t.Run("Returns when the queue closes", func(t *testing.T) {
		q := qmemory.New()
		p, err := New[result](q, deleting(q), WithIdleInterval(10*time.Millisecond), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		errc := make(chan error, 1)
		go func() { errc <- p.Run(context.Background()) }()
		require.Eventually(t, func() bool { return p.Iterations() > 0 }, time.Second, 5*time.Millisecond)

		require.NoError(t, q.Close())
		require.ErrorIs(t, <-errc, serrors.ErrQueueClosed)
	})
	t.Run("Lets in-flight messages finish after cancellation", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 1)

		started := make(chan struct{})
		release := make(chan struct{})
		handler := HandlerFunc[result](func(ctx context.Context, msg *queue.Message) (result, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return "failed", err
			}
			return deleting(q)(ctx, msg)
		})
		p, err := New[result](q, handler, WithIdleInterval(10*time.Millisecond), WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- p.Run(ctx) }()

		<-started
		cancel()
		close(release)

		require.NoError(t, <-errc)
		assert.EqualValues(t, 1, p.TotalCompleted())
		assert.Zero(t, q.Len())
	})
	t.Run("Abandons in-flight messages after the drain timeout", func(t *testing.T) {
		q := qmemory.New()
		fill(t, q, 1)

		started := make(chan struct{})
		handler := HandlerFunc[result](func(ctx context.Context, _ *queue.Message) (result, error) {
			close(started)
			<-ctx.Done()
			return "failed", ctx.Err()
		})
		p, err := New[result](q, handler,
			WithIdleInterval(10*time.Millisecond),
			WithDrainTimeout(50*time.Millisecond),
			WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- p.Run(ctx) }()

		<-started
		cancel()

		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("poll loop did not stop")
		}
		assert.EqualValues(t, 1, p.TotalFailed())
		assert.Equal(t, 1, q.Len())
	})
}
