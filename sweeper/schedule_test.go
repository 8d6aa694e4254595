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

package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/sagamatch/artifact"
	"github.com/tochemey/sagamatch/blobstore/memory"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/notification"
	qmemory "github.com/tochemey/sagamatch/queue/memory"
	"github.com/tochemey/sagamatch/saga"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pendingOrder := upload(t, store, artifact.Order, 5*time.Minute, "A", saga.StatusPending)
	upload(t, store, artifact.Payment, 2*time.Hour, "B", saga.StatusPending)

	q := qmemory.New()
	sent, err := newSweeper(t, store).Sweep(ctx, q, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	bodies := q.Bodies()
	require.Len(t, bodies, 1)
	n, err := notification.NewDecoder(notification.EncodingAuto).Decode(bodies[0])
	require.NoError(t, err)
	assert.Equal(t, artifact.Subject(container, pendingOrder), n.Subject)

	_, err = newSweeper(t, store).Sweep(ctx, q, 0)
	require.Error(t, err)
}

func TestScheduler(t *testing.T) {
	t.Run("With invalid settings", func(t *testing.T) {
		sweeper := newSweeper(t, memory.NewStore())
		q := qmemory.New()

		_, err := NewScheduler(nil, q, time.Second, time.Minute)
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
		_, err = NewScheduler(sweeper, nil, time.Second, time.Minute)
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
		_, err = NewScheduler(sweeper, q, 0, time.Minute)
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
		_, err = NewScheduler(sweeper, q, time.Second, 0)
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
	})

	t.Run("With a pending artifact", func(t *testing.T) {
		ctx := context.Background()
		store := memory.NewStore()
		location := upload(t, store, artifact.Payment, time.Minute, "A", saga.StatusPending)
		upload(t, store, artifact.Order, time.Minute, "B", saga.StatusCompleted)
		q := qmemory.New()

		scheduler, err := NewScheduler(newSweeper(t, store), q, 50*time.Millisecond, 15*time.Minute)
		require.NoError(t, err)
		require.NoError(t, scheduler.Start(ctx))
		// starting twice is a no-op
		require.NoError(t, scheduler.Start(ctx))

		require.Eventually(t, func() bool {
			return scheduler.Runs() >= 2
		}, 5*time.Second, 10*time.Millisecond)
		scheduler.Stop(ctx)

		bodies := q.Bodies()
		require.GreaterOrEqual(t, len(bodies), 2)
		for _, body := range bodies {
			n, err := notification.NewDecoder(notification.EncodingAuto).Decode(body)
			require.NoError(t, err)
			assert.Equal(t, artifact.Subject(container, location), n.Subject)
		}

		// no sweep runs once stopped
		time.Sleep(100 * time.Millisecond)
		runs := scheduler.Runs()
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, runs, scheduler.Runs())
		scheduler.Stop(ctx)
	})
}
