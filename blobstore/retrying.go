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

package blobstore

import (
	"context"
	"time"

	"github.com/flowchartsman/retry"

	serrors "github.com/tochemey/sagamatch/errors"
)

type retryingStore struct {
	underlying Store
	retrier    *retry.Retrier
}

var _ Store = (*retryingStore)(nil)

// NewRetryingStore wraps store so that transient failures are retried up to
// attempts times with an exponential backoff between initialDelay and
// maxDelay. Domain errors such as ErrAlreadyLeased are returned at once.
//
// A retried AcquireLease whose first attempt reached the backend may observe
// its own lease and report ErrAlreadyLeased. The orphan lease lapses after
// its duration.
func NewRetryingStore(store Store, attempts int, initialDelay, maxDelay time.Duration) Store {
	return &retryingStore{
		underlying: store,
		retrier:    retry.NewRetrier(attempts, initialDelay, maxDelay),
	}
}

func (s *retryingStore) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.underlying.Put(ctx, location, data, tags)
	})
}

func (s *retryingStore) Exists(ctx context.Context, location string) (bool, error) {
	var exists bool
	err := s.run(ctx, func(ctx context.Context) (err error) {
		exists, err = s.underlying.Exists(ctx, location)
		return err
	})
	return exists, err
}

func (s *retryingStore) GetTags(ctx context.Context, location string) (map[string]string, error) {
	var tags map[string]string
	err := s.run(ctx, func(ctx context.Context) (err error) {
		tags, err = s.underlying.GetTags(ctx, location)
		return err
	})
	return tags, err
}

func (s *retryingStore) SetTags(ctx context.Context, location string, tags map[string]string, lease *Lease) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.underlying.SetTags(ctx, location, tags, lease)
	})
}

func (s *retryingStore) AcquireLease(ctx context.Context, location string, d time.Duration) (*Lease, error) {
	var lease *Lease
	err := s.run(ctx, func(ctx context.Context) (err error) {
		lease, err = s.underlying.AcquireLease(ctx, location, d)
		return err
	})
	return lease, err
}

func (s *retryingStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.underlying.ReleaseLease(ctx, lease)
	})
}

func (s *retryingStore) FindByTags(ctx context.Context, q Query) ([]string, error) {
	var locations []string
	err := s.run(ctx, func(ctx context.Context) (err error) {
		locations, err = s.underlying.FindByTags(ctx, q)
		return err
	})
	return locations, err
}

func (s *retryingStore) Close() error {
	return s.underlying.Close()
}

// run retries fn while it fails with a transient error. A non transient
// error stops the retrier and is returned as is.
func (s *retryingStore) run(ctx context.Context, fn func(ctx context.Context) error) error {
	var final error
	err := s.retrier.RunContext(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if serrors.IsTransient(err) {
			return err
		}
		final = err
		return nil
	})
	if err != nil {
		return err
	}
	return final
}
