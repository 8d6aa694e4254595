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

package etcd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testcontainer "github.com/testcontainers/testcontainers-go/modules/etcd"

	"github.com/tochemey/sagamatch/blobstore/storetest"
	serrors "github.com/tochemey/sagamatch/errors"
)

var (
	etcdEndpoints []string
	namespaceSeq  atomic.Uint64
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainer.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.14")
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	endpoints, err := container.ClientEndpoints(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}
	etcdEndpoints = endpoints

	code := m.Run()
	_ = testcontainers.TerminateContainer(container)
	os.Exit(code)
}

// isolated returns a config whose namespace no other test shares.
func isolated() *Config {
	return &Config{
		Endpoints: etcdEndpoints,
		Namespace: fmt.Sprintf("/sagamatch-test-%d", namespaceSeq.Add(1)),
	}
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *storetest.Harness {
		store, err := NewStore(isolated())
		require.NoError(t, err)
		return &storetest.Harness{Store: store}
	})
}

func TestNewStore(t *testing.T) {
	t.Run("With nil config", func(t *testing.T) {
		store, err := NewStore(nil)
		require.Error(t, err)
		require.Nil(t, store)
	})

	t.Run("With missing endpoints", func(t *testing.T) {
		store, err := NewStore(&Config{})
		require.ErrorIs(t, err, serrors.ErrInvalidConfig)
		require.Nil(t, store)
	})

	t.Run("With defaults", func(t *testing.T) {
		config := &Config{Endpoints: etcdEndpoints, Namespace: " "}
		store, err := NewStore(config)
		require.NoError(t, err)
		require.Equal(t, defaultNamespace, config.Namespace)
		require.Equal(t, 5*time.Second, config.DialTimeout)
		require.NotNil(t, config.Context)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())
	})

	t.Run("With unreachable endpoints", func(t *testing.T) {
		store, err := NewStore(&Config{
			Endpoints:   []string{"http://127.0.0.1:1"},
			DialTimeout: 500 * time.Millisecond,
		})
		require.Error(t, err)
		require.Nil(t, store)
	})
}

func TestStoreBoundedLeaseLapses(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(isolated())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	location := "2024/order_1_x.json"
	require.NoError(t, store.Put(ctx, location, []byte("payload"), nil))

	stale, err := store.AcquireLease(ctx, location, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.SetTags(ctx, location, map[string]string{"status": "pending"}, stale) != nil
	}, 10*time.Second, 250*time.Millisecond)

	fresh, err := store.AcquireLease(ctx, location, time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, store.SetTags(ctx, location, nil, stale), serrors.ErrLeaseMismatch)
	require.NoError(t, store.ReleaseLease(ctx, fresh))

	data, err := store.Data(ctx, location)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestTTLSeconds(t *testing.T) {
	require.EqualValues(t, 1, ttlSeconds(time.Millisecond))
	require.EqualValues(t, 60, ttlSeconds(time.Minute))
	require.EqualValues(t, 61, ttlSeconds(time.Minute+time.Millisecond))
}
