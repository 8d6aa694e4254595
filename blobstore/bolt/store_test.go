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

package bolt

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tochemey/sagamatch/blobstore/storetest"
	serrors "github.com/tochemey/sagamatch/errors"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *storetest.Harness {
		c := &clock{now: time.Now()}
		store, err := NewStore(filepath.Join(t.TempDir(), "sagamatch.db"), WithClock(c.Now))
		require.NoError(t, err)
		return &storetest.Harness{Store: store, Advance: c.Advance}
	})
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sagamatch.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "2024/order_1_x.json", []byte("payload"), map[string]string{"id": "x"}))
	lease, err := store.AcquireLease(ctx, "2024/order_1_x.json", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.SetTags(ctx, "2024/order_1_x.json", map[string]string{"id": "x", "status": "pending"}, lease))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	tags, err := reopened.GetTags(ctx, "2024/order_1_x.json")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"id": "x", "status": "pending"}, tags)

	// the lease survived the restart
	_, err = reopened.AcquireLease(ctx, "2024/order_1_x.json", time.Minute)
	require.ErrorIs(t, err, serrors.ErrAlreadyLeased)

	data, err := reopened.Data(ctx, "2024/order_1_x.json")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	_, err = reopened.Data(ctx, "2024/payment_1_x.json")
	require.ErrorIs(t, err, serrors.ErrObjectNotFound)
}

func TestNewStoreInvalidPath(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "missing", "sagamatch.db"))
	require.Error(t, err)
	require.Nil(t, store)
}
