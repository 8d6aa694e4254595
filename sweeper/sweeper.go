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

// Package sweeper finds sagas still waiting for their sibling and can
// announce them again to the matcher.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/tochemey/sagamatch/artifact"
	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/notification"
	"github.com/tochemey/sagamatch/queue"
	"github.com/tochemey/sagamatch/saga"
)

// Pending is an artifact recorded as pending.
type Pending struct {
	Location string
	State    *saga.State
}

// Option configures the Sweeper
type Option func(*Sweeper)

// WithEncoding sets the encoding of the notifications Requeue sends.
func WithEncoding(enc notification.Encoding) Option {
	return func(s *Sweeper) { s.encoding = enc }
}

// WithClock sets the clock the search window is computed from.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// Sweeper queries the tag store for pending sagas.
type Sweeper struct {
	store     blobstore.Store
	container string
	encoding  notification.Encoding
	clock     func() time.Time
	logger    log.Logger
}

// New creates a Sweeper over the artifacts of container.
func New(store blobstore.Store, container string, opts ...Option) (*Sweeper, error) {
	sweeper := &Sweeper{
		store:     store,
		container: container,
		encoding:  notification.EncodingJSON,
		clock:     time.Now,
		logger:    log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(sweeper)
	}

	if err := validation.New(validation.FailFast()).
		AddAssertion(store != nil, "store is required").
		AddValidator(validation.NewEmptyStringValidator("container", container)).
		AddValidator(validation.NewOneOfValidator("encoding", string(sweeper.encoding), notification.Encodings...)).
		Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}
	return sweeper, nil
}

// FindPending returns the pending artifacts of both kinds whose timestamp is
// within the last window, sorted by location.
func (s *Sweeper) FindPending(ctx context.Context, window time.Duration) ([]*Pending, error) {
	if window <= 0 {
		return nil, fmt.Errorf("search window must be positive, got %s", window)
	}
	cutoff := strconv.FormatInt(s.clock().Add(-window).Unix(), 10)

	var pending []*Pending
	for _, kind := range []artifact.Kind{artifact.Order, artifact.Payment} {
		query := blobstore.Where(saga.TagStatus, saga.StatusPending.String()).
			And(saga.TagType, kind.String()).
			AndGreaterThan(saga.TagTimestamp, cutoff)

		locations, err := s.store.FindByTags(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to find pending %s artifacts: %w", kind, err)
		}

		for _, location := range locations {
			tags, err := s.store.GetTags(ctx, location)
			if err != nil {
				if errors.Is(err, serrors.ErrObjectNotFound) {
					continue
				}
				return nil, fmt.Errorf("failed to read tags of %s: %w", location, err)
			}

			state, err := saga.FromTags(tags)
			if err != nil {
				s.logger.Warnf("skipping %s: %v", location, err)
				continue
			}
			// the tags may have changed between the query and the read
			if state.Completed() {
				continue
			}
			pending = append(pending, &Pending{Location: location, State: state})
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Location < pending[j].Location
	})
	return pending, nil
}

// Requeue sends a fresh notification for every pending artifact to q and
// returns how many were sent. It goes on after a failed send.
func (s *Sweeper) Requeue(ctx context.Context, q queue.Queue, pending []*Pending) (int, error) {
	var (
		sent int
		errs error
	)
	for _, p := range pending {
		body, err := notification.Encode(artifact.Subject(s.container, p.Location), s.encoding)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to encode notification of %s: %w", p.Location, err))
			continue
		}
		if err := q.Send(ctx, body); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to requeue %s: %w", p.Location, err))
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.Infof("requeued %d pending artifacts", sent)
	}
	return sent, errs
}
