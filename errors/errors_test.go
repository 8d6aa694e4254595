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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(fmt.Errorf("get: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(NewErrAlreadyLeased("a/b")))
	assert.False(t, IsTransient(NewErrObjectNotFound("a/b")))
	assert.False(t, IsTransient(fmt.Errorf("write tags: %w", ErrLeaseMismatch)))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
}

func TestClassification(t *testing.T) {
	assert.True(t, IsContention(NewErrAlreadyLeased("sales/order_1_x.json")))
	assert.False(t, IsContention(ErrLeaseExpired))
	assert.True(t, IsLostLease(ErrLeaseExpired))
	assert.True(t, IsLostLease(fmt.Errorf("set tags: %w", ErrLeaseMismatch)))
	assert.False(t, IsLostLease(ErrAlreadyLeased))
}

func TestFormatters(t *testing.T) {
	err := NewErrMalformedNotification("subject %q has %d segments", "/a/b", 3)
	require.ErrorIs(t, err, ErrMalformedNotification)
	require.EqualError(t, err, "malformed notification: subject \"/a/b\" has 3 segments")

	err = NewErrObjectNotFound("sales/order_1_x.json")
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.EqualError(t, err, "location=(sales/order_1_x.json) object not found")

	err = NewErrAlreadyLeased("sales/order_1_x.json")
	require.ErrorIs(t, err, ErrAlreadyLeased)

	cause := errors.New("batch size must be positive")
	err = NewErrInvalidConfig(cause)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, err, cause)
}
