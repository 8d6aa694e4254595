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

package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAlreadyLeased is returned when a lease is requested on an artifact
	// that is currently leased by another worker.
	ErrAlreadyLeased = errors.New("artifact is already leased")

	// ErrLeaseExpired indicates the lease presented for a write is no longer valid.
	ErrLeaseExpired = errors.New("lease has expired")

	// ErrLeaseMismatch indicates the artifact is leased under a different token.
	ErrLeaseMismatch = errors.New("lease token mismatch")

	// ErrLeaseRequired is returned when a tag write is attempted without a lease.
	ErrLeaseRequired = errors.New("a lease is required to write tags")

	// ErrInvalidLeaseDuration is returned for non-positive, non-infinite lease durations.
	ErrInvalidLeaseDuration = errors.New("invalid lease duration")

	// ErrObjectNotFound is returned when the artifact does not exist in the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists is returned when writing an artifact that already exists.
	// Artifacts are immutable.
	ErrObjectExists = errors.New("object already exists")

	// ErrInvalidLocation is returned for empty or unusable artifact locations.
	ErrInvalidLocation = errors.New("invalid artifact location")

	// ErrMalformedNotification indicates an inbound notification that cannot be
	// turned into an artifact reference. Such messages are poison and are dead-lettered.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrInvalidTags is returned when stored tags cannot be read as saga state.
	ErrInvalidTags = errors.New("invalid saga tags")

	// ErrStatusRegression is returned when a write would move a completed saga back to pending.
	ErrStatusRegression = errors.New("saga status cannot go back from completed")

	// ErrStaleState is returned when the stored saga state no longer matches
	// the state the write was computed from.
	ErrStaleState = errors.New("saga state changed since it was read")

	// ErrInvalidResult is returned when an outbound completion message cannot be decoded.
	ErrInvalidResult = errors.New("invalid saga result")

	// ErrStoreClosed is returned when using a store after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrQueueClosed is returned when using a queue after Close.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrMessageNotFound is returned when deleting or dead-lettering a message
	// that is no longer in flight, typically because its visibility timeout elapsed.
	ErrMessageNotFound = errors.New("message not found or visibility timeout elapsed")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPollerStarted is returned when starting a poll loop twice.
	ErrPollerStarted = errors.New("poller already started")
)

// domain lists the sentinels that describe an outcome rather than a fault.
// Retrying an operation that failed with one of them will not change the result.
var domain = []error{
	ErrAlreadyLeased,
	ErrLeaseExpired,
	ErrLeaseMismatch,
	ErrLeaseRequired,
	ErrInvalidLeaseDuration,
	ErrObjectNotFound,
	ErrObjectExists,
	ErrInvalidLocation,
	ErrMalformedNotification,
	ErrInvalidTags,
	ErrStatusRegression,
	ErrStaleState,
	ErrInvalidResult,
	ErrStoreClosed,
	ErrQueueClosed,
	ErrMessageNotFound,
	ErrInvalidConfig,
}

// IsTransient reports whether err is worth retrying: it is neither one of the
// domain sentinels nor a context cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, sentinel := range domain {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// IsContention reports whether err means another worker owns the artifact
// right now. The message should be left for redelivery.
func IsContention(err error) bool {
	return errors.Is(err, ErrAlreadyLeased)
}

// IsLostLease reports whether err means a held lease was lost mid-transaction.
func IsLostLease(err error) bool {
	return errors.Is(err, ErrLeaseExpired) || errors.Is(err, ErrLeaseMismatch)
}

// NewErrMalformedNotification formats an ErrMalformedNotification with the offending detail.
func NewErrMalformedNotification(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedNotification, fmt.Sprintf(format, args...))
}

// NewErrObjectNotFound formats an ErrObjectNotFound with the artifact location.
func NewErrObjectNotFound(location string) error {
	return fmt.Errorf("location=(%s) %w", location, ErrObjectNotFound)
}

// NewErrAlreadyLeased formats an ErrAlreadyLeased with the artifact location.
func NewErrAlreadyLeased(location string) error {
	return fmt.Errorf("location=(%s) %w", location, ErrAlreadyLeased)
}

// NewErrInvalidConfig joins the validation failure with ErrInvalidConfig.
func NewErrInvalidConfig(err error) error {
	return errors.Join(ErrInvalidConfig, err)
}
