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

// Package nats implements queue.Queue on NATS JetStream.
//
// Each queue is a work-queue stream read by one durable pull consumer shared
// by every worker. The consumer ack wait is the visibility timeout. Dead
// letters go to a sibling stream kept with limits retention.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/natsconn"
	"github.com/tochemey/sagamatch/queue"
)

// Header names set on dead letters.
const (
	ReasonHeader    = "Sagamatch-Dead-Letter-Reason"
	MessageIDHeader = "Sagamatch-Message-Id"
)

type delivery struct {
	msg        *nats.Msg
	receivedAt time.Time
}

// Queue is a JetStream backed queue.Queue.
type Queue struct {
	config *Config
	conn   *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription

	mu       sync.Mutex
	inflight map[string]delivery

	closed *atomic.Bool
}

var _ queue.Queue = (*Queue)(nil)

// New connects to NATS, ensures both streams exist and binds the consumer.
func New(config *Config) (*Queue, error) {
	if config == nil {
		return nil, errors.New("queue/nats: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}

	conn, js, err := natsconn.Connect(config.URL, config.ConnName, config.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("queue/nats: %w", err)
	}

	q, err := bind(config, conn, js)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func bind(config *Config, conn *nats.Conn, js nats.JetStreamContext) (*Queue, error) {
	if err := natsconn.Stream(js, &nats.StreamConfig{
		Name:       config.streamName(),
		Subjects:   []string{config.subject()},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: config.DuplicateWindow,
	}); err != nil {
		return nil, fmt.Errorf("queue/nats: %w", err)
	}

	if err := natsconn.Stream(js, &nats.StreamConfig{
		Name:      config.deadLetterStreamName(),
		Subjects:  []string{config.deadLetterSubject()},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	}); err != nil {
		return nil, fmt.Errorf("queue/nats: %w", err)
	}

	if err := natsconn.Consumer(js, config.streamName(), &nats.ConsumerConfig{
		Durable:       config.durableName(),
		FilterSubject: config.subject(),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       config.VisibilityTimeout,
		DeliverPolicy: nats.DeliverAllPolicy,
	}); err != nil {
		return nil, fmt.Errorf("queue/nats: %w", err)
	}

	sub, err := js.PullSubscribe(config.subject(), config.durableName(),
		nats.Bind(config.streamName(), config.durableName()),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue/nats: subscribe %s: %w", config.subject(), err)
	}

	return &Queue{
		config:   config,
		conn:     conn,
		js:       js,
		sub:      sub,
		inflight: make(map[string]delivery),
		closed:   atomic.NewBool(false),
	}, nil
}

// Receive implements queue.Queue. It waits up to FetchWait for messages.
func (q *Queue) Receive(ctx context.Context, max int) ([]*queue.Message, error) {
	if err := q.guard(ctx); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.config.FetchWait)
	defer cancel()

	msgs, err := q.sub.Fetch(max, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue/nats: fetch: %w", err)
	}

	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evict(now)

	messages := make([]*queue.Message, 0, len(msgs))
	for _, msg := range msgs {
		meta, err := msg.Metadata()
		if err != nil {
			// not a JetStream delivery, nothing to acknowledge
			continue
		}
		receipt := uuid.NewString()
		q.inflight[receipt] = delivery{msg: msg, receivedAt: now}
		messages = append(messages, &queue.Message{
			ID:            strconv.FormatUint(meta.Sequence.Stream, 10),
			Body:          msg.Data,
			DeliveryCount: int(meta.NumDelivered),
			Receipt:       receipt,
		})
	}
	return messages, nil
}

// Delete implements queue.Queue.
func (q *Queue) Delete(ctx context.Context, msg *queue.Message) error {
	if err := q.guard(ctx); err != nil {
		return err
	}
	d, err := q.take(msg)
	if err != nil {
		return err
	}
	if err := d.msg.AckSync(nats.Context(ctx)); err != nil {
		return fmt.Errorf("queue/nats: ack %s: %w", msg.ID, err)
	}
	return nil
}

// Send implements queue.Queue. The deduplication id becomes the JetStream
// message id.
func (q *Queue) Send(ctx context.Context, body []byte, opts ...queue.SendOption) error {
	if err := q.guard(ctx); err != nil {
		return err
	}

	pubOpts := []nats.PubOpt{nats.Context(ctx)}
	if id := queue.ApplySendOptions(opts...).DeduplicationID; id != "" {
		pubOpts = append(pubOpts, nats.MsgId(id))
	}
	if _, err := q.js.Publish(q.config.subject(), body, pubOpts...); err != nil {
		return fmt.Errorf("queue/nats: publish: %w", err)
	}
	return nil
}

// DeadLetter implements queue.Queue. The message is copied to the dead-letter
// stream then terminated so the consumer never redelivers it.
func (q *Queue) DeadLetter(ctx context.Context, msg *queue.Message, reason string) error {
	if err := q.guard(ctx); err != nil {
		return err
	}
	d, err := q.take(msg)
	if err != nil {
		return err
	}

	dead := nats.NewMsg(q.config.deadLetterSubject())
	dead.Data = msg.Body
	dead.Header.Set(ReasonHeader, reason)
	dead.Header.Set(MessageIDHeader, msg.ID)
	if _, err := q.js.PublishMsg(dead, nats.Context(ctx), nats.MsgId("dead-letter/"+msg.ID)); err != nil {
		return fmt.Errorf("queue/nats: publish dead letter: %w", err)
	}
	if err := d.msg.Term(nats.Context(ctx)); err != nil {
		return fmt.Errorf("queue/nats: terminate %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetter is a message read back from the dead-letter stream.
type DeadLetter struct {
	MessageID string
	Reason    string
	Body      []byte
}

// DeadLetters returns up to max dead letters without consuming them.
func (q *Queue) DeadLetters(ctx context.Context, max int) ([]DeadLetter, error) {
	if err := q.guard(ctx); err != nil {
		return nil, err
	}
	info, err := q.js.StreamInfo(q.config.deadLetterStreamName(), nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("queue/nats: dead letter stream: %w", err)
	}

	letters := make([]DeadLetter, 0, max)
	if info.State.Msgs == 0 {
		return letters, nil
	}
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && len(letters) < max; seq++ {
		raw, err := q.js.GetMsg(q.config.deadLetterStreamName(), seq, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrMsgNotFound) {
				continue
			}
			return nil, fmt.Errorf("queue/nats: read dead letter %d: %w", seq, err)
		}
		letters = append(letters, DeadLetter{
			MessageID: raw.Header.Get(MessageIDHeader),
			Reason:    raw.Header.Get(ReasonHeader),
			Body:      raw.Data,
		})
	}
	return letters, nil
}

// Close unsubscribes and closes the connection. The durable consumer
// outlives the queue. Close is idempotent.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	err := q.sub.Unsubscribe()
	q.conn.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("queue/nats: unsubscribe: %w", err)
	}
	return nil
}

// take removes the delivery of msg when it is still current.
func (q *Queue) take(msg *queue.Message) (delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[msg.Receipt]
	if !ok {
		return delivery{}, serrors.ErrMessageNotFound
	}
	delete(q.inflight, msg.Receipt)
	if time.Since(d.receivedAt) >= q.config.VisibilityTimeout {
		return delivery{}, serrors.ErrMessageNotFound
	}
	return d, nil
}

// evict forgets deliveries whose visibility timeout elapsed.
func (q *Queue) evict(now time.Time) {
	for receipt, d := range q.inflight {
		if now.Sub(d.receivedAt) >= q.config.VisibilityTimeout {
			delete(q.inflight, receipt)
		}
	}
}

func (q *Queue) guard(ctx context.Context) error {
	if q.closed.Load() {
		return serrors.ErrQueueClosed
	}
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
