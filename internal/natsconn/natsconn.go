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

// Package natsconn dials NATS with JetStream enabled for the NATS backed
// store and queue.
package natsconn

import (
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
)

const (
	maxRetries    = 5
	reconnectWait = 2 * time.Second
)

// Connect dials url with an exponential backoff and returns the connection
// with its JetStream context.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, nats.JetStreamContext, error) {
	opts := nats.GetDefaultOptions()
	opts.Url = url
	opts.Name = name
	opts.Timeout = timeout
	opts.ReconnectWait = reconnectWait
	opts.MaxReconnect = -1

	var conn *nats.Conn
	retrier := retry.NewRetrier(maxRetries, 100*time.Millisecond, reconnectWait)
	if err := retrier.Run(func() (err error) {
		conn, err = opts.Connect()
		return err
	}); err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return conn, js, nil
}

// KeyValue binds the bucket, creating it when missing. Concurrent creators
// converge on the same bucket.
func KeyValue(js nats.JetStreamContext, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.KeyValue(cfg.Bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(cfg)
	if err != nil {
		kv, err = js.KeyValue(cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("create key value bucket %s: %w", cfg.Bucket, err)
		}
	}
	return kv, nil
}

// ObjectStore binds the bucket, creating it when missing.
func ObjectStore(js nats.JetStreamContext, cfg *nats.ObjectStoreConfig) (nats.ObjectStore, error) {
	obs, err := js.ObjectStore(cfg.Bucket)
	if err == nil {
		return obs, nil
	}

	obs, err = js.CreateObjectStore(cfg)
	if err != nil {
		obs, err = js.ObjectStore(cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("create object store %s: %w", cfg.Bucket, err)
		}
	}
	return obs, nil
}

// Stream ensures the stream exists. An existing stream is used as is.
func Stream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	if _, err := js.StreamInfo(cfg.Name); err == nil {
		return nil
	}

	if _, err := js.AddStream(cfg); err != nil {
		if _, ierr := js.StreamInfo(cfg.Name); ierr != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Consumer ensures the durable consumer exists on stream. Subscriptions that
// bind to it never delete it on unsubscribe.
func Consumer(js nats.JetStreamContext, stream string, cfg *nats.ConsumerConfig) error {
	if _, err := js.ConsumerInfo(stream, cfg.Durable); err == nil {
		return nil
	}

	if _, err := js.AddConsumer(stream, cfg); err != nil {
		if _, ierr := js.ConsumerInfo(stream, cfg.Durable); ierr != nil {
			return fmt.Errorf("create consumer %s on %s: %w", cfg.Durable, stream, err)
		}
	}
	return nil
}
