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

// Package memory provides an in-process blobstore.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

type object struct {
	data []byte
	meta *blobstore.Meta
}

// Store keeps artifacts in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	clock   func() time.Time
	closed  *atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithClock sets the clock used to expire leases.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		objects: make(map[string]*object),
		clock:   time.Now,
		closed:  atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Put uploads a new artifact.
func (s *Store) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := blobstore.ValidateLocation(location); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[location]; ok {
		return serrors.ErrObjectExists
	}

	s.objects[location] = &object{
		data: append([]byte(nil), data...),
		meta: blobstore.NewMeta(location, tags),
	}
	return nil
}

// Exists reports whether the artifact is stored.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := s.guard(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.objects[location]
	s.mu.RUnlock()
	return ok, nil
}

// Data returns the bytes of the artifact.
func (s *Store) Data(location string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[location]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// GetTags returns a copy of the artifact tags.
func (s *Store) GetTags(ctx context.Context, location string) (map[string]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[location]
	if !ok {
		return nil, serrors.NewErrObjectNotFound(location)
	}
	return blobstore.CopyTags(obj.meta.Tags), nil
}

// SetTags replaces the artifact tags under lease.
func (s *Store) SetTags(ctx context.Context, location string, tags map[string]string, lease *blobstore.Lease) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[location]
	if !ok {
		return serrors.NewErrObjectNotFound(location)
	}
	if err := obj.meta.Authorize(lease, s.clock()); err != nil {
		return err
	}
	obj.meta.Tags = blobstore.CopyTags(tags)
	return nil
}

// AcquireLease takes the artifact lease.
func (s *Store) AcquireLease(ctx context.Context, location string, d time.Duration) (*blobstore.Lease, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[location]
	if !ok {
		return nil, serrors.NewErrObjectNotFound(location)
	}
	return obj.meta.Acquire(d, s.clock())
}

// ReleaseLease gives the lease back.
func (s *Store) ReleaseLease(ctx context.Context, lease *blobstore.Lease) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if lease == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[lease.Location]; ok {
		obj.meta.Release(lease.Token)
	}
	return nil
}

// FindByTags returns the sorted locations of the matching artifacts.
func (s *Store) FindByTags(ctx context.Context, q blobstore.Query) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	locations := make([]string, 0)
	for location, obj := range s.objects {
		if q.Matches(obj.meta.Tags) {
			locations = append(locations, location)
		}
	}
	return blobstore.SortLocations(locations), nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) guard(ctx context.Context) error {
	if s.closed.Load() {
		return serrors.ErrStoreClosed
	}
	return blobstore.ContextErr(ctx)
}
