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

// Package storetest holds the behaviour every blobstore.Store backend must
// exhibit, as a reusable test suite.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

// Harness is a fresh store under test.
type Harness struct {
	// Store is an empty store.
	Store blobstore.Store
	// Advance moves the store clock forward. Expiry cases are skipped when nil.
	Advance func(d time.Duration)
	// LeaseDuration is the bounded duration used by the suite. Defaults to one minute.
	LeaseDuration time.Duration
}

// Run executes the contract against stores built by newHarness. Each sub
// test gets its own harness. Run closes the stores it creates.
func Run(t *testing.T, newHarness func(t *testing.T) *Harness) {
	setup := func(t *testing.T) *Harness {
		h := newHarness(t)
		if h.LeaseDuration == 0 {
			h.LeaseDuration = time.Minute
		}
		t.Cleanup(func() { _ = h.Store.Close() })
		return h
	}

	t.Run("With put and read back", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		location := "2024/05/order_1000_ABC.json"

		exists, err := h.Store.Exists(ctx, location)
		require.NoError(t, err)
		require.False(t, exists)

		_, err = h.Store.GetTags(ctx, location)
		require.ErrorIs(t, err, serrors.ErrObjectNotFound)

		require.NoError(t, h.Store.Put(ctx, location, []byte("{}"), map[string]string{"source": "upload"}))
		exists, err = h.Store.Exists(ctx, location)
		require.NoError(t, err)
		require.True(t, exists)

		tags, err := h.Store.GetTags(ctx, location)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"source": "upload"}, tags)

		err = h.Store.Put(ctx, location, []byte("{}"), nil)
		require.ErrorIs(t, err, serrors.ErrObjectExists)
	})

	t.Run("With an artifact without tags", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		require.NoError(t, h.Store.Put(ctx, "payment_1_x.json", nil, nil))
		tags, err := h.Store.GetTags(ctx, "payment_1_x.json")
		require.NoError(t, err)
		require.NotNil(t, tags)
		require.Empty(t, tags)
	})

	t.Run("With invalid locations", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		for _, location := range []string{"", "/abs/order_1_x.json", "a//b.json", "a/../b.json", "dir/"} {
			err := h.Store.Put(ctx, location, nil, nil)
			require.ErrorIs(t, err, serrors.ErrInvalidLocation, location)
		}
	})

	t.Run("With tags written under lease", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		location := "2024/order_1_x.json"
		require.NoError(t, h.Store.Put(ctx, location, nil, nil))

		err := h.Store.SetTags(ctx, location, map[string]string{"status": "pending"}, nil)
		require.ErrorIs(t, err, serrors.ErrLeaseRequired)

		lease, err := h.Store.AcquireLease(ctx, location, h.LeaseDuration)
		require.NoError(t, err)
		require.Equal(t, location, lease.Location)
		require.NotEmpty(t, lease.Token)
		require.False(t, lease.Infinite())

		require.NoError(t, h.Store.SetTags(ctx, location, map[string]string{"status": "pending", "id": "x"}, lease))
		tags, err := h.Store.GetTags(ctx, location)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"status": "pending", "id": "x"}, tags)

		require.NoError(t, h.Store.SetTags(ctx, location, map[string]string{"status": "completed"}, lease))
		tags, err = h.Store.GetTags(ctx, location)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"status": "completed"}, tags)

		require.NoError(t, h.Store.ReleaseLease(ctx, lease))
		err = h.Store.SetTags(ctx, location, map[string]string{"status": "pending"}, lease)
		require.ErrorIs(t, err, serrors.ErrLeaseExpired)
	})

	t.Run("With a missing artifact", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		_, err := h.Store.AcquireLease(ctx, "order_1_missing.json", h.LeaseDuration)
		require.ErrorIs(t, err, serrors.ErrObjectNotFound)
		err = h.Store.SetTags(ctx, "order_1_missing.json", nil, &blobstore.Lease{Location: "order_1_missing.json", Token: "t"})
		require.ErrorIs(t, err, serrors.ErrObjectNotFound)
	})

	t.Run("With invalid lease duration", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		require.NoError(t, h.Store.Put(ctx, "order_1_x.json", nil, nil))
		_, err := h.Store.AcquireLease(ctx, "order_1_x.json", 0)
		require.ErrorIs(t, err, serrors.ErrInvalidLeaseDuration)
		_, err = h.Store.AcquireLease(ctx, "order_1_x.json", -5*time.Second)
		require.ErrorIs(t, err, serrors.ErrInvalidLeaseDuration)
	})

	t.Run("With an infinite lease", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		require.NoError(t, h.Store.Put(ctx, "order_1_x.json", nil, nil))
		lease, err := h.Store.AcquireLease(ctx, "order_1_x.json", blobstore.InfiniteLease)
		require.NoError(t, err)
		require.True(t, lease.Infinite())
		_, err = h.Store.AcquireLease(ctx, "order_1_x.json", h.LeaseDuration)
		require.ErrorIs(t, err, serrors.ErrAlreadyLeased)
		require.NoError(t, h.Store.ReleaseLease(ctx, lease))
		lease, err = h.Store.AcquireLease(ctx, "order_1_x.json", h.LeaseDuration)
		require.NoError(t, err)
		require.NoError(t, h.Store.ReleaseLease(ctx, lease))
	})

	t.Run("With mutual exclusion", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		location := "order_1_x.json"
		require.NoError(t, h.Store.Put(ctx, location, nil, nil))

		const contenders = 8
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			leases []*blobstore.Lease
			denied int
		)
		wg.Add(contenders)
		for range contenders {
			go func() {
				defer wg.Done()
				lease, err := h.Store.AcquireLease(ctx, location, h.LeaseDuration)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					assert.ErrorIs(t, err, serrors.ErrAlreadyLeased)
					denied++
					return
				}
				leases = append(leases, lease)
			}()
		}
		wg.Wait()

		require.Len(t, leases, 1)
		require.Equal(t, contenders-1, denied)

		// a forged token cannot write
		forged := &blobstore.Lease{Location: location, Token: "forged"}
		err := h.Store.SetTags(ctx, location, map[string]string{"status": "completed"}, forged)
		require.ErrorIs(t, err, serrors.ErrLeaseMismatch)

		// releasing a foreign lease is a no-op
		require.NoError(t, h.Store.ReleaseLease(ctx, forged))
		_, err = h.Store.AcquireLease(ctx, location, h.LeaseDuration)
		require.ErrorIs(t, err, serrors.ErrAlreadyLeased)

		require.NoError(t, h.Store.ReleaseLease(ctx, leases[0]))
		require.NoError(t, h.Store.ReleaseLease(ctx, leases[0]))
		next, err := h.Store.AcquireLease(ctx, location, h.LeaseDuration)
		require.NoError(t, err)
		require.NotEqual(t, leases[0].Token, next.Token)
		require.NoError(t, h.Store.ReleaseLease(ctx, next))
	})

	t.Run("With lease expiry", func(t *testing.T) {
		h := setup(t)
		if h.Advance == nil {
			t.Skip("store clock cannot be advanced")
		}
		ctx := context.Background()
		location := "order_1_x.json"
		require.NoError(t, h.Store.Put(ctx, location, nil, nil))

		stale, err := h.Store.AcquireLease(ctx, location, h.LeaseDuration)
		require.NoError(t, err)
		h.Advance(h.LeaseDuration + time.Second)

		err = h.Store.SetTags(ctx, location, map[string]string{"status": "pending"}, stale)
		require.ErrorIs(t, err, serrors.ErrLeaseExpired)

		fresh, err := h.Store.AcquireLease(ctx, location, h.LeaseDuration)
		require.NoError(t, err)
		err = h.Store.SetTags(ctx, location, map[string]string{"status": "pending"}, stale)
		require.ErrorIs(t, err, serrors.ErrLeaseMismatch)

		// the stale holder cannot release the new lease
		require.NoError(t, h.Store.ReleaseLease(ctx, stale))
		require.NoError(t, h.Store.SetTags(ctx, location, map[string]string{"status": "completed"}, fresh))
		require.NoError(t, h.Store.ReleaseLease(ctx, fresh))
	})

	t.Run("With find by tags", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		seed := map[string]map[string]string{
			"a/order_100_a.json":   {"type": "order", "status": "pending", "ts": "100"},
			"a/order_300_b.json":   {"type": "order", "status": "pending", "ts": "300"},
			"a/order_400_c.json":   {"type": "order", "status": "completed", "ts": "400"},
			"a/payment_500_d.json": {"type": "payment", "status": "pending", "ts": "500"},
			"a/order_600_e.json":   {},
		}
		for location, tags := range seed {
			require.NoError(t, h.Store.Put(ctx, location, nil, tags))
		}

		locations, err := h.Store.FindByTags(ctx, blobstore.Where("status", "pending").And("type", "order").AndGreaterThan("ts", "200"))
		require.NoError(t, err)
		require.Equal(t, []string{"a/order_300_b.json"}, locations)

		locations, err = h.Store.FindByTags(ctx, blobstore.Where("status", "pending"))
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a/order_100_a.json", "a/order_300_b.json", "a/payment_500_d.json"}, locations)

		locations, err = h.Store.FindByTags(ctx, blobstore.Where("status", "unknown"))
		require.NoError(t, err)
		require.Empty(t, locations)
	})

	t.Run("With a closed store", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		require.NoError(t, h.Store.Close())
		_, err := h.Store.Exists(ctx, "order_1_x.json")
		require.ErrorIs(t, err, serrors.ErrStoreClosed)
		err = h.Store.Put(ctx, "order_1_x.json", nil, nil)
		require.ErrorIs(t, err, serrors.ErrStoreClosed)
	})

	t.Run("With a canceled context", func(t *testing.T) {
		h := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Store.Exists(ctx, "order_1_x.json")
		require.ErrorIs(t, err, context.Canceled)
	})
}
