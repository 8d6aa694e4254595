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

// Package nats implements blobstore.Store on NATS JetStream.
//
// Artifact bytes live in an object store bucket. Tags and the lease of each
// artifact live in one JSON record of a key value bucket, keyed by a hash of
// the location. Every mutation is a compare-and-set on the record revision,
// so taking a lease and writing tags under it are atomic across workers.
package nats

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/natsconn"
)

const keyPrefix = "artifact."

// Store is a NATS JetStream backed blobstore.Store.
type Store struct {
	config  *Config
	conn    *nats.Conn
	objects nats.ObjectStore
	kv      nats.KeyValue
	clock   func() time.Time
	closed  *atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithClock sets the clock used to stamp and check lease expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore connects to NATS and binds, or creates, both buckets.
func NewStore(config *Config, opts ...Option) (*Store, error) {
	if config == nil {
		return nil, errors.New("blobstore/nats: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}

	conn, js, err := natsconn.Connect(config.URL, config.Name, config.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("blobstore/nats: %w", err)
	}

	objects, err := natsconn.ObjectStore(js, &nats.ObjectStoreConfig{Bucket: config.ObjectBucket})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blobstore/nats: %w", err)
	}

	kv, err := natsconn.KeyValue(js, &nats.KeyValueConfig{Bucket: config.MetaBucket})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("blobstore/nats: %w", err)
	}

	store := &Store{
		config:  config,
		conn:    conn,
		objects: objects,
		kv:      kv,
		clock:   time.Now,
		closed:  atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Put uploads a new artifact. The record is created first so that a
// concurrent uploader of the same location never overwrites the bytes.
func (s *Store) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := blobstore.ValidateLocation(location); err != nil {
		return err
	}

	payload, err := json.Marshal(blobstore.NewMeta(location, tags))
	if err != nil {
		return fmt.Errorf("blobstore/nats: encode: %w", err)
	}

	key := metaKey(location)
	if _, err := s.kv.Create(key, payload); err != nil {
		if isRevisionConflict(err) {
			return serrors.ErrObjectExists
		}
		return fmt.Errorf("blobstore/nats: create record: %w", err)
	}

	if data == nil {
		data = []byte{}
	}
	if _, err := s.objects.PutBytes(location, data, nats.Context(ctx)); err != nil {
		_ = s.kv.Delete(key)
		return fmt.Errorf("blobstore/nats: put object: %w", err)
	}
	return nil
}

// Exists reports whether the artifact record exists.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := s.guard(ctx); err != nil {
		return false, err
	}
	_, _, err := s.load(location)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, serrors.ErrObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Data returns the artifact bytes.
func (s *Store) Data(ctx context.Context, location string) ([]byte, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	data, err := s.objects.GetBytes(location, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, serrors.NewErrObjectNotFound(location)
		}
		return nil, fmt.Errorf("blobstore/nats: get object: %w", err)
	}
	return data, nil
}

// GetTags returns a copy of the artifact tags.
func (s *Store) GetTags(ctx context.Context, location string) (map[string]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	meta, _, err := s.load(location)
	if err != nil {
		return nil, err
	}
	return blobstore.CopyTags(meta.Tags), nil
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

// FindByTags scans every record of the bucket.
func (s *Store) FindByTags(ctx context.Context, q blobstore.Query) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	keys, err := s.kv.Keys(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("blobstore/nats: list keys: %w", err)
	}

	locations := make([]string, 0)
	for _, key := range keys {
		entry, err := s.kv.Get(key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("blobstore/nats: get record: %w", err)
		}
		meta, err := decode(entry.Value())
		if err != nil {
			return nil, err
		}
		if q.Matches(meta.Tags) {
			locations = append(locations, meta.Location)
		}
	}
	return blobstore.SortLocations(locations), nil
}

// Close releases the NATS connection. Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.conn.Close()
	return nil
}

// mutate applies fn to the current record and writes it back at the read
// revision, retrying on revision conflicts. fn reports whether it changed
// the record.
func (s *Store) mutate(ctx context.Context, location string, fn func(meta *blobstore.Meta) (bool, error)) error {
	for range s.config.MaxConflictRetries {
		if err := s.guard(ctx); err != nil {
			return err
		}

		meta, revision, err := s.load(location)
		if err != nil {
			return err
		}

		changed, err := fn(meta)
		if err != nil || !changed {
			return err
		}

		payload, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("blobstore/nats: encode: %w", err)
		}

		if _, err := s.kv.Update(metaKey(location), payload, revision); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return fmt.Errorf("blobstore/nats: update record: %w", err)
		}
		return nil
	}
	return fmt.Errorf("blobstore/nats: record of %s kept changing after %d attempts", location, s.config.MaxConflictRetries)
}

func (s *Store) load(location string) (*blobstore.Meta, uint64, error) {
	entry, err := s.kv.Get(metaKey(location))
	if err != nil {
		if isNotFound(err) {
			return nil, 0, serrors.NewErrObjectNotFound(location)
		}
		return nil, 0, fmt.Errorf("blobstore/nats: get record: %w", err)
	}
	meta, err := decode(entry.Value())
	if err != nil {
		return nil, 0, err
	}
	return meta, entry.Revision(), nil
}

func (s *Store) guard(ctx context.Context) error {
	if s.closed.Load() {
		return serrors.ErrStoreClosed
	}
	return blobstore.ContextErr(ctx)
}

func decode(payload []byte) (*blobstore.Meta, error) {
	meta := new(blobstore.Meta)
	if err := json.Unmarshal(payload, meta); err != nil {
		return nil, fmt.Errorf("blobstore/nats: decode record: %w", err)
	}
	if meta.Tags == nil {
		meta.Tags = make(map[string]string)
	}
	return meta, nil
}

// metaKey maps a location onto a valid key. Locations may hold characters
// that keys do not accept.
func metaKey(location string) string {
	sum := xxh3.HashString128(location).Bytes()
	return keyPrefix + hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
