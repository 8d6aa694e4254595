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
	"time"

	serrors "github.com/tochemey/sagamatch/errors"
)

// Meta is the mutable record kept next to an artifact by the backends that
// store tags and the lease in a single document. Every transition is computed
// on a decoded Meta and written back atomically by the backend.
type Meta struct {
	Location    string            `json:"location"`
	Tags        map[string]string `json:"tags"`
	LeaseToken  string            `json:"lease_token,omitempty"`
	LeaseExpiry time.Time         `json:"lease_expiry"`
}

// NewMeta creates the record of a freshly uploaded artifact.
func NewMeta(location string, tags map[string]string) *Meta {
	return &Meta{Location: location, Tags: CopyTags(tags)}
}

// Leased reports whether a lease is active at now.
func (m *Meta) Leased(now time.Time) bool {
	if m.LeaseToken == "" {
		return false
	}
	return m.LeaseExpiry.IsZero() || now.Before(m.LeaseExpiry)
}

// Acquire takes the lease for d at now. An expired lease is overwritten.
func (m *Meta) Acquire(d time.Duration, now time.Time) (*Lease, error) {
	if err := ValidateLeaseDuration(d); err != nil {
		return nil, err
	}

	if m.Leased(now) {
		return nil, serrors.NewErrAlreadyLeased(m.Location)
	}

	lease := NewLease(m.Location, d, now)
	m.LeaseToken = lease.Token
	m.LeaseExpiry = lease.ExpiresAt
	return lease, nil
}

// Authorize checks that lease may write the record at now.
func (m *Meta) Authorize(lease *Lease, now time.Time) error {
	if lease == nil || lease.Token == "" {
		return serrors.ErrLeaseRequired
	}

	if m.LeaseToken != lease.Token {
		if m.Leased(now) {
			return serrors.ErrLeaseMismatch
		}
		return serrors.ErrLeaseExpired
	}

	if !m.Leased(now) {
		return serrors.ErrLeaseExpired
	}
	return nil
}

// Release drops the lease when token still owns it. It reports whether the
// record changed.
func (m *Meta) Release(token string) bool {
	if token == "" || m.LeaseToken != token {
		return false
	}
	m.LeaseToken = ""
	m.LeaseExpiry = time.Time{}
	return true
}
