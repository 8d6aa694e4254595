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

// Package blobstore defines the store of immutable artifacts carrying
// mutable key/value tags guarded by single-writer leases.
package blobstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/tochemey/sagamatch/errors"
)

// InfiniteLease requests a lease that never expires. A holder that crashes
// keeps the artifact locked until an operator breaks the lease, so the
// matcher never uses it.
const InfiniteLease time.Duration = -1

// Store is the tag store adapter.
//
// Artifacts are written once with Put and never rewritten. Tags may only be
// changed with SetTags by the holder of the artifact lease.
type Store interface {
	// Put uploads a new artifact with its initial tags.
	// It fails with ErrObjectExists when location is taken.
	Put(ctx context.Context, location string, data []byte, tags map[string]string) error
	// Exists reports whether an artifact is stored at location.
	Exists(ctx context.Context, location string) (bool, error)
	// GetTags returns a copy of the tags of the artifact.
	GetTags(ctx context.Context, location string) (map[string]string, error)
	// SetTags replaces the tags of the artifact. The lease must be the one
	// currently held on location. It fails with ErrLeaseExpired when the
	// lease lapsed and ErrLeaseMismatch when another holder leased the artifact since.
	SetTags(ctx context.Context, location string, tags map[string]string, lease *Lease) error
	// AcquireLease takes the single-writer lease on the artifact for d, or
	// forever when d is InfiniteLease. It never blocks on a held lease and
	// fails with ErrAlreadyLeased instead.
	AcquireLease(ctx context.Context, location string, d time.Duration) (*Lease, error)
	// ReleaseLease gives the lease back. Releasing a lease that expired or
	// was taken over is a no-op.
	ReleaseLease(ctx context.Context, lease *Lease) error
	// FindByTags returns the locations of the artifacts whose tags match q.
	FindByTags(ctx context.Context, q Query) ([]string, error)
	// Close releases the resources held by the store.
	Close() error
}

// Lease is a held single-writer lease.
type Lease struct {
	// Location is the leased artifact.
	Location string
	// Token identifies this holder.
	Token string
	// ExpiresAt is the expiry instant. It is zero for an infinite lease.
	ExpiresAt time.Time
}

// NewLease mints a lease on location granted at now for d.
func NewLease(location string, d time.Duration, now time.Time) *Lease {
	lease := &Lease{Location: location, Token: uuid.NewString()}
	if d != InfiniteLease {
		lease.ExpiresAt = now.Add(d)
	}
	return lease
}

// Infinite reports whether the lease never expires.
func (l *Lease) Infinite() bool {
	return l.ExpiresAt.IsZero()
}

// ValidateLeaseDuration checks d is positive or InfiniteLease.
func ValidateLeaseDuration(d time.Duration) error {
	if d > 0 || d == InfiniteLease {
		return nil
	}
	return serrors.ErrInvalidLeaseDuration
}

// ValidateLocation rejects empty, absolute and dotted locations.
func ValidateLocation(location string) error {
	if location == "" || strings.HasPrefix(location, "/") || strings.HasSuffix(location, "/") {
		return serrors.ErrInvalidLocation
	}
	for _, part := range strings.Split(location, "/") {
		if part == "" || part == "." || part == ".." {
			return serrors.ErrInvalidLocation
		}
	}
	return nil
}

// CopyTags returns a shallow copy of tags. It never returns nil.
func CopyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// ContextErr returns the context error, if any.
func ContextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
