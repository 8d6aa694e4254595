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

// Package redis implements blobstore.Store on Redis.
//
// Per artifact it keeps the bytes in a string, the tags in a hash and the
// lease token in a string that expires with the lease (SET NX PX). Tag writes
// watch the lease key so a lease that lapses or changes hands mid-write
// aborts the transaction.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

const (
	defaultPrefix     = "sagamatch:"
	maxWatchConflicts = 8
)

// releaseScript deletes the lease key only when it still holds the token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is a Redis backed blobstore.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
	closed *atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithPrefix namespaces every key. Defaults to "sagamatch:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore wraps client. The store owns the client and closes it on Close.
func NewStore(client redis.UniversalClient, opts ...Option) *Store {
	store := &Store{client: client, prefix: defaultPrefix, closed: atomic.NewBool(false)}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dial connects to the Redis server at addr and checks it answers.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blobstore/redis: ping %s: %w", addr, err)
	}
	return NewStore(client, opts...), nil
}

// Put uploads a new artifact.
func (s *Store) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := blobstore.ValidateLocation(location); err != nil {
		return err
	}

	if data == nil {
		data = []byte{}
	}
	created, err := s.client.SetNX(ctx, s.blobKey(location), data, 0).Result()
	if err != nil {
		return fmt.Errorf("blobstore/redis: put: %w", err)
	}
	if !created {
		return serrors.ErrObjectExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(tags) > 0 {
			pipe.HSet(ctx, s.tagsKey(location), tags)
		}
		pipe.SAdd(ctx, s.indexKey(), location)
		return nil
	})
	if err != nil {
		return fmt.Errorf("blobstore/redis: put tags: %w", err)
	}
	return nil
}

// Exists reports whether the artifact is stored.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := s.guard(ctx); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.blobKey(location)).Result()
	if err != nil {
		return false, fmt.Errorf("blobstore/redis: exists: %w", err)
	}
	return n == 1, nil
}

// Data returns the artifact bytes.
func (s *Store) Data(ctx context.Context, location string) ([]byte, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.blobKey(location)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.NewErrObjectNotFound(location)
		}
		return nil, fmt.Errorf("blobstore/redis: get: %w", err)
	}
	return data, nil
}

// GetTags returns the artifact tags.
func (s *Store) GetTags(ctx context.Context, location string) (map[string]string, error) {
	if err := s.mustExist(ctx, location); err != nil {
		return nil, err
	}
	tags, err := s.client.HGetAll(ctx, s.tagsKey(location)).Result()
	if err != nil {
		return nil, fmt.Errorf("blobstore/redis: get tags: %w", err)
	}
	return blobstore.CopyTags(tags), nil
}

// SetTags replaces the artifact tags under lease.
func (s *Store) SetTags(ctx context.Context, location string, tags map[string]string, lease *blobstore.Lease) error {
	if err := s.mustExist(ctx, location); err != nil {
		return err
	}
	if lease == nil || lease.Token == "" {
		return serrors.ErrLeaseRequired
	}

	leaseKey := s.leaseKey(location)
	tagsKey := s.tagsKey(location)
	write := func(tx *redis.Tx) error {
		holder, err := tx.Get(ctx, leaseKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return serrors.ErrLeaseExpired
		case err != nil:
			return err
		case holder != lease.Token:
			return serrors.ErrLeaseMismatch
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, tagsKey)
			if len(tags) > 0 {
				pipe.HSet(ctx, tagsKey, tags)
			}
			return nil
		})
		return err
	}

	for range maxWatchConflicts {
		err := s.client.Watch(ctx, write, leaseKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && serrors.IsTransient(err) {
			return fmt.Errorf("blobstore/redis: set tags: %w", err)
		}
		return err
	}
	return fmt.Errorf("blobstore/redis: lease of %s kept changing during the write", location)
}

// AcquireLease takes the artifact lease.
func (s *Store) AcquireLease(ctx context.Context, location string, d time.Duration) (*blobstore.Lease, error) {
	if err := blobstore.ValidateLeaseDuration(d); err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, location); err != nil {
		return nil, err
	}

	lease := blobstore.NewLease(location, d, time.Now())
	expiration := d
	if d == blobstore.InfiniteLease {
		expiration = 0
	}

	acquired, err := s.client.SetNX(ctx, s.leaseKey(location), lease.Token, expiration).Result()
	if err != nil {
		return nil, fmt.Errorf("blobstore/redis: acquire lease: %w", err)
	}
	if !acquired {
		return nil, serrors.NewErrAlreadyLeased(location)
	}
	return lease, nil
}

// ReleaseLease gives the lease back.
func (s *Store) ReleaseLease(ctx context.Context, lease *blobstore.Lease) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if lease == nil || lease.Token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.leaseKey(lease.Location)}, lease.Token).Err(); err != nil {
		return fmt.Errorf("blobstore/redis: release lease: %w", err)
	}
	return nil
}

// FindByTags scans the location index.
func (s *Store) FindByTags(ctx context.Context, q blobstore.Query) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("blobstore/redis: list locations: %w", err)
	}

	locations := make([]string, 0)
	for _, location := range members {
		tags, err := s.client.HGetAll(ctx, s.tagsKey(location)).Result()
		if err != nil {
			return nil, fmt.Errorf("blobstore/redis: get tags: %w", err)
		}
		if q.Matches(tags) {
			locations = append(locations, location)
		}
	}
	return blobstore.SortLocations(locations), nil
}

// Close closes the client. Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

func (s *Store) mustExist(ctx context.Context, location string) error {
	exists, err := s.Exists(ctx, location)
	if err != nil {
		return err
	}
	if !exists {
		return serrors.NewErrObjectNotFound(location)
	}
	return nil
}

func (s *Store) guard(ctx context.Context) error {
	if s.closed.Load() {
		return serrors.ErrStoreClosed
	}
	return blobstore.ContextErr(ctx)
}

func (s *Store) blobKey(location string) string  { return s.prefix + "blob:" + location }
func (s *Store) tagsKey(location string) string  { return s.prefix + "tags:" + location }
func (s *Store) leaseKey(location string) string { return s.prefix + "lease:" + location }
func (s *Store) indexKey() string                { return s.prefix + "locations" }
