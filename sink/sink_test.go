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

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tochemey/sagamatch/artifact"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/poller"
	"github.com/tochemey/sagamatch/queue"
	qmemory "github.com/tochemey/sagamatch/queue/memory"
	"github.com/tochemey/sagamatch/saga"
	"github.com/tochemey/sagamatch/telemetry"
	"github.com/tochemey/sagamatch/telemetry/telemetrytest"
)

var _ poller.Handler[Outcome] = (*Sink)(nil)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func completedResult() *saga.Result {
	return &saga.Result{
		Sagas: []*saga.State{
			{ID: "ABC", Type: artifact.Order, Status: saga.StatusCompleted, TS: "1000"},
			{ID: "ABC", Type: artifact.Payment, Status: saga.StatusCompleted, TS: "1001"},
		},
		OrderLocation:   "2024/05/order_1000_ABC.json",
		PaymentLocation: "2024/05/payment_1001_ABC.json",
	}
}

func publish(t *testing.T, q queue.Queue, body []byte) *queue.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, body))
	messages, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	return messages[0]
}

func encoded(t *testing.T, result *saga.Result) []byte {
	t.Helper()
	body, err := result.Encode()
	require.NoError(t, err)
	return body
}

func TestNew(t *testing.T) {
	t.Run("Without queue", func(t *testing.T) {
		sink, err := New(nil, nil)
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
		assert.Nil(t, sink)
	})
	t.Run("With defaults", func(t *testing.T) {
		sink, err := New(qmemory.New(), nil)
		require.NoError(t, err)
		assert.NotNil(t, sink.report)
		assert.NotNil(t, sink.telemetry)
		assert.Equal(t, log.DefaultLogger, sink.logger)
	})
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("With a saga result", func(t *testing.T) {
		q := qmemory.New()
		recorder := telemetrytest.New(t)
		var reported []*saga.Result
		sink, err := New(q, func(_ context.Context, result *saga.Result) error {
			reported = append(reported, result)
			return nil
		}, WithLogger(log.DiscardLogger), WithTelemetry(recorder.Telemetry))
		require.NoError(t, err)

		outcome, err := sink.Handle(ctx, publish(t, q, encoded(t, completedResult())))
		require.NoError(t, err)
		assert.Equal(t, OutcomeReported, outcome)
		assert.True(t, outcome.Completed())
		require.Len(t, reported, 1)
		assert.Equal(t, completedResult(), reported[0])
		assert.Zero(t, q.Len())
		assert.Equal(t, []string{SpanName}, recorder.SpanNames())
	})
	t.Run("With the default report", func(t *testing.T) {
		q := qmemory.New()
		buffer := new(bytes.Buffer)
		sink, err := New(q, nil, WithLogger(log.NewZap(log.InfoLevel, buffer)))
		require.NoError(t, err)

		outcome, err := sink.Handle(ctx, publish(t, q, encoded(t, completedResult())))
		require.NoError(t, err)
		assert.Equal(t, OutcomeReported, outcome)

		entry := make(map[string]any)
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buffer.Bytes()), &entry))
		assert.Equal(t, "saga completed", entry["msg"])
		assert.Equal(t, "ABC", entry["correlation_id"])
		assert.Equal(t, "2024/05/order_1000_ABC.json", entry["order_location"])
		assert.Equal(t, "2024/05/payment_1001_ABC.json", entry["payment_location"])
	})
	t.Run("With an undecodable result", func(t *testing.T) {
		q := qmemory.New()
		recorder := telemetrytest.New(t)
		sink, err := New(q, func(context.Context, *saga.Result) error {
			t.Fatal("report must not be called")
			return nil
		}, WithLogger(log.DiscardLogger), WithTelemetry(recorder.Telemetry))
		require.NoError(t, err)

		for _, body := range [][]byte{[]byte("not json"), []byte(`{"sagas":[]}`)} {
			outcome, err := sink.Handle(ctx, publish(t, q, body))
			require.NoError(t, err)
			assert.Equal(t, OutcomeDeadLettered, outcome)
		}
		assert.Zero(t, q.Len())
		deadLetters := q.DeadLetters()
		require.Len(t, deadLetters, 2)
		for _, letter := range deadLetters {
			assert.True(t, strings.HasPrefix(letter.Reason, ReasonInvalidResult+": "))
			assert.Greater(t, len(letter.Reason), len(ReasonInvalidResult+": "))
		}
		assert.Contains(t, deadLetters[1].Reason, "missing location")
		assert.EqualValues(t, 2, recorder.Counter(t, telemetry.MessagesDeadLetteredName))
	})
	t.Run("With a failing report", func(t *testing.T) {
		q := qmemory.New()
		sink, err := New(q, func(context.Context, *saga.Result) error {
			return errors.New("downstream unavailable")
		}, WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		outcome, err := sink.Handle(ctx, publish(t, q, encoded(t, completedResult())))
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.False(t, outcome.Completed())
		assert.Equal(t, 1, q.Len())
		assert.Empty(t, q.DeadLetters())
	})
	t.Run("With an expired receipt", func(t *testing.T) {
		now := time.Now()
		q := qmemory.New(
			qmemory.WithVisibilityTimeout(time.Second),
			qmemory.WithClock(func() time.Time { return now }))
		sink, err := New(q, func(context.Context, *saga.Result) error {
			now = now.Add(2 * time.Second)
			return nil
		}, WithLogger(log.DiscardLogger))
		require.NoError(t, err)

		outcome, err := sink.Handle(ctx, publish(t, q, encoded(t, completedResult())))
		require.ErrorIs(t, err, serrors.ErrMessageNotFound)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, 1, q.Len())
	})
}

func TestPolledSink(t *testing.T) {
	q := qmemory.New()
	for range 3 {
		require.NoError(t, q.Send(context.Background(), encoded(t, completedResult())))
	}

	var reports int
	sink, err := New(q, func(context.Context, *saga.Result) error {
		reports++
		return nil
	}, WithLogger(log.DiscardLogger))
	require.NoError(t, err)

	loop, err := poller.New[Outcome](q, sink, poller.WithName(LoopName), poller.WithLogger(log.DiscardLogger))
	require.NoError(t, err)

	stats, err := loop.Iterate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 3, reports)
	assert.Zero(t, q.Len())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "reported", OutcomeReported.String())
	assert.Equal(t, "dead_lettered", OutcomeDeadLettered.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}
