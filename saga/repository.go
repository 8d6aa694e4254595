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

package saga

import (
	"context"
	"fmt"

	"github.com/tochemey/sagamatch/artifact"
	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

// Repository reads and writes saga state.
type Repository interface {
	// Get returns the state of the artifact, backfilled from the reference.
	Get(ctx context.Context, a *artifact.Artifact) (*State, error)
	// CompareAndSetWithLease writes next when the stored status still equals
	// expected. The lease must be held on the artifact.
	CompareAndSetWithLease(ctx context.Context, lease *blobstore.Lease, expected Status, next *State) error
}

// TagRepository keeps saga state as artifact tags.
type TagRepository struct {
	store blobstore.Store
}

var _ Repository = (*TagRepository)(nil)

// NewTagRepository creates a TagRepository over store.
func NewTagRepository(store blobstore.Store) *TagRepository {
	return &TagRepository{store: store}
}

// Get implements Repository.
func (r *TagRepository) Get(ctx context.Context, a *artifact.Artifact) (*State, error) {
	tags, err := r.store.GetTags(ctx, a.Location)
	if err != nil {
		return nil, err
	}
	state, err := FromTags(tags)
	if err != nil {
		return nil, fmt.Errorf("location=(%s): %w", a.Location, err)
	}
	if err := state.Backfill(a); err != nil {
		return nil, err
	}
	return state, nil
}

// CompareAndSetWithLease implements Repository. A completed artifact never
// goes back to pending.
func (r *TagRepository) CompareAndSetWithLease(ctx context.Context, lease *blobstore.Lease, expected Status, next *State) error {
	if lease == nil {
		return serrors.ErrLeaseRequired
	}

	tags, err := r.store.GetTags(ctx, lease.Location)
	if err != nil {
		return err
	}
	current, err := FromTags(tags)
	if err != nil {
		return fmt.Errorf("location=(%s): %w", lease.Location, err)
	}

	if current.Completed() && !next.Completed() {
		return fmt.Errorf("location=(%s): %w", lease.Location, serrors.ErrStatusRegression)
	}
	if current.Status != expected {
		return fmt.Errorf("location=(%s) status is %s, expected %s: %w", lease.Location, current.Status, expected, serrors.ErrStaleState)
	}
	return r.store.SetTags(ctx, lease.Location, next.Tags(tags), lease)
}
