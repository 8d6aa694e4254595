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

// Package bolt implements blobstore.Store on a single bbolt file.
//
// bbolt serializes writers, so every lease and tag transition runs in one
// Update transaction. The file lock keeps a second process out; this backend
// suits a single host running several matcher goroutines.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	bbolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

const fileMode os.FileMode = 0o600

var (
	blobsBucket = []byte("blobs")
	metaBucket  = []byte("meta")
	openTimeout = 5 * time.Second
)

// Store is a bbolt backed blobstore.Store.
type Store struct {
	db     *bbolt.DB
	clock  func() time.Time
	closed *atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithClock sets the clock used to stamp and check lease expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore opens, or creates, the database at path.
func NewStore(path string, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, fileMode, &bbolt.Options{Timeout: openTimeout, NoGrowSync: true})
	if err != nil {
		return nil, fmt.Errorf("blobstore/bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blobstore/bolt: initializing buckets: %w", err)
	}

	store := &Store{db: db, clock: time.Now, closed: atomic.NewBool(false)}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Put uploads a new artifact.
func (s *Store) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := blobstore.ValidateLocation(location); err != nil {
		return err
	}

	payload, err := json.Marshal(blobstore.NewMeta(location, tags))
	if err != nil {
		return fmt.Errorf("blobstore/bolt: encode: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		metas := tx.Bucket(metaBucket)
		key := []byte(location)
		if metas.Get(key) != nil {
			return serrors.ErrObjectExists
		}
		if err := tx.Bucket(blobsBucket).Put(key, append([]byte{}, data...)); err != nil {
			return err
		}
		return metas.Put(key, payload)
	})
}

// Exists reports whether the artifact is stored.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := s.guard(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(metaBucket).Get([]byte(location)) != nil
		return nil
	})
	return exists, err
}

// Data returns the artifact bytes.
func (s *Store) Data(ctx context.Context, location string) ([]byte, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(blobsBucket).Get([]byte(location))
		if raw == nil {
			return serrors.NewErrObjectNotFound(location)
		}
		// bbolt memory is only valid inside the transaction
		data = append([]byte{}, raw...)
		return nil
	})
	return data, err
}

// GetTags returns a copy of the artifact tags.
func (s *Store) GetTags(ctx context.Context, location string) (map[string]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	var tags map[string]string
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, err := readMeta(tx, location)
		if err != nil {
			return err
		}
		tags = meta.Tags
		return nil
	})
	return tags, err
}

// SetTags replaces the artifact tags under lease.
func (s *Store) SetTags(ctx context.Context, location string, tags map[string]string, lease *blobstore.Lease) error {
	return s.mutate(ctx, location, func(meta *blobstore.Meta) (bool, error) {
		if err := meta.Authorize(lease, s.clock()); err != nil {
			return false, err
		}
		meta.Tags = blobstore.CopyTags(tags)
		return true, nil
	})
}

// AcquireLease takes the artifact lease.
func (s *Store) AcquireLease(ctx context.Context, location string, d time.Duration) (*blobstore.Lease, error) {
	var lease *blobstore.Lease
	err := s.mutate(ctx, location, func(meta *blobstore.Meta) (bool, error) {
		var err error
		lease, err = meta.Acquire(d, s.clock())
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// ReleaseLease gives the lease back.
func (s *Store) ReleaseLease(ctx context.Context, lease *blobstore.Lease) error {
	if lease == nil {
		return s.guard(ctx)
	}
	err := s.mutate(ctx, lease.Location, func(meta *blobstore.Meta) (bool, error) {
		return meta.Release(lease.Token), nil
	})
	if errors.Is(err, serrors.ErrObjectNotFound) {
		return nil
	}
	return err
}

// FindByTags scans the meta bucket.
func (s *Store) FindByTags(ctx context.Context, q blobstore.Query) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	locations := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(_, value []byte) error {
			meta, err := decode(value)
			if err != nil {
				return err
			}
			if q.Matches(meta.Tags) {
				locations = append(locations, meta.Location)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// bbolt iterates in key order
	return locations, nil
}

// Close closes the database. Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) mutate(ctx context.Context, location string, fn func(meta *blobstore.Meta) (bool, error)) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := readMeta(tx, location)
		if err != nil {
			return err
		}
		changed, err := fn(meta)
		if err != nil || !changed {
			return err
		}
		payload, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("blobstore/bolt: encode: %w", err)
		}
		return tx.Bucket(metaBucket).Put([]byte(location), payload)
	})
}

func (s *Store) guard(ctx context.Context) error {
	if s.closed.Load() {
		return serrors.ErrStoreClosed
	}
	return blobstore.ContextErr(ctx)
}

func readMeta(tx *bbolt.Tx, location string) (*blobstore.Meta, error) {
	raw := tx.Bucket(metaBucket).Get([]byte(location))
	if raw == nil {
		return nil, serrors.NewErrObjectNotFound(location)
	}
	return decode(raw)
}

func decode(payload []byte) (*blobstore.Meta, error) {
	meta := new(blobstore.Meta)
	if err := json.Unmarshal(payload, meta); err != nil {
		return nil, fmt.Errorf("blobstore/bolt: decode record: %w", err)
	}
	if meta.Tags == nil {
		meta.Tags = make(map[string]string)
	}
	return meta, nil
}
