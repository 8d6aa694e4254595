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

// Package queue defines the at-least-once message queue driving the
// matcher and the completion sink.
//
// A received message stays invisible to other receivers for the visibility
// timeout of the queue. It is redelivered once the timeout elapses unless it
// was deleted or dead-lettered.
package queue

import "context"

// Message is a received message.
type Message struct {
	// ID identifies the message across deliveries.
	ID string
	// Body is the raw payload.
	Body []byte
	// DeliveryCount is 1 on the first delivery.
	DeliveryCount int
	// Receipt identifies this delivery to the queue. It is opaque.
	Receipt string
}

// Queue is an at-least-once queue with visibility timeouts.
type Queue interface {
	// Receive returns up to max visible messages. It does not wait for
	// messages beyond the backend's own poll window and may return none.
	Receive(ctx context.Context, max int) ([]*Message, error)
	// Delete acknowledges the message. It fails with ErrMessageNotFound when
	// the delivery is no longer current.
	Delete(ctx context.Context, msg *Message) error
	// Send enqueues body.
	Send(ctx context.Context, body []byte, opts ...SendOption) error
	// DeadLetter moves the message to the dead-letter queue with reason.
	DeadLetter(ctx context.Context, msg *Message, reason string) error
	// Close releases the resources held by the queue.
	Close() error
}

// SendOptions holds the options of Send.
type SendOptions struct {
	// DeduplicationID makes the queue drop a later message carrying the same id.
	DeduplicationID string
}

// SendOption configures a Send call.
type SendOption func(*SendOptions)

// WithDeduplicationID sets the deduplication id of the message.
func WithDeduplicationID(id string) SendOption {
	return func(o *SendOptions) { o.DeduplicationID = id }
}

// ApplySendOptions folds opts.
func ApplySendOptions(opts ...SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
