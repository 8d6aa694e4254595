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

// Package memory implements queue.Queue in process.
package memory

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/queue"
)

// DefaultVisibilityTimeout is the visibility timeout of a Queue created
// without WithVisibilityTimeout.
const DefaultVisibilityTimeout = 30 * time.Second

// DeadLetter is a message moved out of the queue.
type DeadLetter struct {
	Message *queue.Message
	Reason  string
}

type entry struct {
	id         string
	body       []byte
	deliveries int
	receipt    string
	visibleAt  time.Time
}

// Queue is an in-process queue.Queue. Messages are received in send order.
type Queue struct {
	mu          sync.Mutex
	entries     []*entry
	seen        mapset.Set[string]
	deadLetters []DeadLetter
	visibility  time.Duration
	clock       func() time.Time
	closed      bool
}

var _ queue.Queue = (*Queue)(nil)

// Option configures the Queue
type Option func(*Queue)

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithClock sets the clock driving visibility timeouts.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		seen:       mapset.NewSet[string](),
		visibility: DefaultVisibilityTimeout,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Receive implements queue.Queue.
func (q *Queue) Receive(ctx context.Context, max int) ([]*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.guard(ctx); err != nil {
		return nil, err
	}

	now := q.clock()
	messages := make([]*queue.Message, 0, max)
	for _, e := range q.entries {
		if len(messages) == max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.deliveries++
		e.receipt = uuid.NewString()
		e.visibleAt = now.Add(q.visibility)
		messages = append(messages, &queue.Message{
			ID:            e.id,
			Body:          append([]byte{}, e.body...),
			DeliveryCount: e.deliveries,
			Receipt:       e.receipt,
		})
	}
	return messages, nil
}

// Delete implements queue.Queue.
func (q *Queue) Delete(ctx context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.guard(ctx); err != nil {
		return err
	}
	_, err := q.take(msg)
	return err
}

// Send implements queue.Queue. A deduplication id is remembered for the
// lifetime of the queue.
func (q *Queue) Send(ctx context.Context, body []byte, opts ...queue.SendOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.guard(ctx); err != nil {
		return err
	}

	options := queue.ApplySendOptions(opts...)
	if options.DeduplicationID != "" && !q.seen.Add(options.DeduplicationID) {
		return nil
	}

	q.entries = append(q.entries, &entry{id: uuid.NewString(), body: append([]byte{}, body...)})
	return nil
}

// DeadLetter implements queue.Queue.
func (q *Queue) DeadLetter(ctx context.Context, msg *queue.Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.guard(ctx); err != nil {
		return err
	}

	e, err := q.take(msg)
	if err != nil {
		return err
	}
	q.deadLetters = append(q.deadLetters, DeadLetter{
		Message: &queue.Message{ID: e.id, Body: e.body, DeliveryCount: e.deliveries},
		Reason:  reason,
	})
	return nil
}

// Close implements queue.Queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// Len returns the number of messages in the queue, in flight or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Bodies returns the payloads of the queued messages in send order.
func (q *Queue) Bodies() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	bodies := make([][]byte, 0, len(q.entries))
	for _, e := range q.entries {
		bodies = append(bodies, append([]byte{}, e.body...))
	}
	return bodies
}

// DeadLetters returns the dead-lettered messages.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter{}, q.deadLetters...)
}

// take removes the entry whose current delivery is msg.
func (q *Queue) take(msg *queue.Message) (*entry, error) {
	now := q.clock()
	for i, e := range q.entries {
		if e.id != msg.ID {
			continue
		}
		if e.receipt != msg.Receipt || !e.visibleAt.After(now) {
			return nil, serrors.ErrMessageNotFound
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e, nil
	}
	return nil, serrors.ErrMessageNotFound
}

func (q *Queue) guard(ctx context.Context) error {
	if q.closed {
		return serrors.ErrQueueClosed
	}
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
