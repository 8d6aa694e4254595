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

package main

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"

	"github.com/tochemey/sagamatch/blobstore"
	bbolt "github.com/tochemey/sagamatch/blobstore/bolt"
	betcd "github.com/tochemey/sagamatch/blobstore/etcd"
	bmemory "github.com/tochemey/sagamatch/blobstore/memory"
	bnats "github.com/tochemey/sagamatch/blobstore/nats"
	bredis "github.com/tochemey/sagamatch/blobstore/redis"
	"github.com/tochemey/sagamatch/config"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/matcher"
	"github.com/tochemey/sagamatch/poller"
	"github.com/tochemey/sagamatch/queue"
	qmemory "github.com/tochemey/sagamatch/queue/memory"
	qnats "github.com/tochemey/sagamatch/queue/nats"
	"github.com/tochemey/sagamatch/sink"
	"github.com/tochemey/sagamatch/sweeper"
	"github.com/tochemey/sagamatch/telemetry"
)

const shutdownTimeout = 5 * time.Second

// runtime holds the clients built from a configuration.
type runtime struct {
	config    *config.Config
	logger    log.Logger
	telemetry *telemetry.Telemetry
	store     blobstore.Store
	inbound   queue.Queue
	outbound  queue.Queue

	// closers run in reverse order on Close
	closers []func() error
}

// newRuntime connects to the configured backends. Spans go to traceOut when
// tracing to stdout is enabled.
func newRuntime(ctx context.Context, cfg *config.Config, traceOut io.Writer) (rt *runtime, err error) {
	rt = &runtime{config: cfg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if rt.logger, err = newLogger(cfg); err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, rt.logger.Flush)

	tel, shutdown, err := newTelemetry(cfg, traceOut)
	if err != nil {
		return rt, err
	}
	rt.telemetry = tel
	rt.closers = append(rt.closers, shutdown)

	store, err := newStore(ctx, cfg)
	if err != nil {
		return rt, err
	}
	rt.store = blobstore.NewRetryingStore(store, cfg.Retry.Attempts, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay)
	rt.closers = append(rt.closers, rt.store.Close)

	if rt.inbound, err = newQueue(cfg, cfg.Queue.Inbound); err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, rt.inbound.Close)

	if rt.outbound, err = newQueue(cfg, cfg.Queue.Outbound); err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, rt.outbound.Close)

	rt.logger.Infof("using %s store and %s queues %s -> %s",
		cfg.Storage.Backend, cfg.Queue.Backend, cfg.Queue.Inbound, cfg.Queue.Outbound)
	return rt, nil
}

// Close releases every client, the logger last.
func (rt *runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// matchLoop builds the poll loop feeding notifications to the matcher.
func (rt *runtime) matchLoop() (*poller.Poller[matcher.Outcome], error) {
	cfg := rt.config
	m, err := matcher.New(rt.inbound, rt.store, rt.outbound,
		matcher.WithContainer(cfg.Storage.Container),
		matcher.WithLeaseDuration(cfg.Lease.Duration),
		matcher.WithReleaseTimeout(cfg.Lease.ReleaseTimeout),
		matcher.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
		matcher.WithEncoding(cfg.Encoding()),
		matcher.WithPublishRetry(cfg.Retry.Attempts, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay),
		matcher.WithLogger(rt.logger),
		matcher.WithTelemetry(rt.telemetry))
	if err != nil {
		return nil, err
	}
	return poller.New[matcher.Outcome](rt.inbound, m, rt.pollOptions(matcher.LoopName)...)
}

// resultLoop builds the poll loop feeding saga results to report. A nil
// report logs each result.
func (rt *runtime) resultLoop(report sink.ReportFunc) (*poller.Poller[sink.Outcome], error) {
	s, err := sink.New(rt.outbound, report,
		sink.WithLogger(rt.logger),
		sink.WithTelemetry(rt.telemetry))
	if err != nil {
		return nil, err
	}
	return poller.New[sink.Outcome](rt.outbound, s, rt.pollOptions(sink.LoopName)...)
}

func (rt *runtime) sweeper() (*sweeper.Sweeper, error) {
	return sweeper.New(rt.store, rt.config.Storage.Container,
		sweeper.WithEncoding(rt.config.Encoding()),
		sweeper.WithLogger(rt.logger))
}

// sweepScheduler builds the scheduler requeuing pending artifacts to the
// inbound queue on the configured interval.
func (rt *runtime) sweepScheduler() (*sweeper.Scheduler, error) {
	sweep, err := rt.sweeper()
	if err != nil {
		return nil, err
	}
	return sweeper.NewScheduler(sweep, rt.inbound, rt.config.Sweep.Interval, rt.config.Sweep.Window)
}

func (rt *runtime) pollOptions(name string) []poller.Option {
	cfg := rt.config.Poll
	return []poller.Option{
		poller.WithName(name),
		poller.WithBatchSize(cfg.BatchSize),
		poller.WithConcurrency(cfg.Concurrency),
		poller.WithIdleInterval(cfg.IdleInterval),
		poller.WithOperationTimeout(cfg.OperationTimeout),
		poller.WithDrainTimeout(cfg.DrainTimeout),
		poller.WithLogger(rt.logger),
		poller.WithTelemetry(rt.telemetry),
	}
}

func newLogger(cfg *config.Config) (log.Logger, error) {
	if cfg.Log.File != "" {
		return log.NewZapFile(cfg.LogLevel(), cfg.Log.File)
	}
	return log.NewZap(cfg.LogLevel(), os.Stdout), nil
}

// newTelemetry installs a stdout span exporter when enabled. The returned
// function flushes and stops it.
func newTelemetry(cfg *config.Config, out io.Writer) (*telemetry.Telemetry, func() error, error) {
	if !cfg.Telemetry.Stdout {
		tel, err := telemetry.New()
		return tel, func() error { return nil }, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.Telemetry.ServiceName),
		)),
	)
	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}

	tel, err := telemetry.New(telemetry.WithTracerProvider(provider))
	if err != nil {
		return nil, nil, multierr.Append(err, shutdown())
	}
	return tel, shutdown, nil
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	storage := cfg.Storage
	switch storage.Backend {
	case config.StorageNATS:
		return bnats.NewStore(&bnats.Config{
			URL:          storage.NATS.URL,
			ObjectBucket: storage.NATS.ObjectBucket,
			MetaBucket:   storage.NATS.MetaBucket,
		})
	case config.StorageBolt:
		return bbolt.NewStore(storage.Bolt.Path)
	case config.StorageRedis:
		return bredis.Dial(ctx, storage.Redis.Addr, storage.Redis.Password, storage.Redis.DB,
			bredis.WithPrefix(storage.Redis.Prefix))
	case config.StorageEtcd:
		return betcd.NewStore(&betcd.Config{
			// the client outlives the command context until Close
			Context:     context.WithoutCancel(ctx),
			Endpoints:   storage.Etcd.Endpoints,
			Namespace:   storage.Etcd.Namespace,
			Username:    storage.Etcd.Username,
			Password:    storage.Etcd.Password,
			DialTimeout: storage.Etcd.DialTimeout,
		})
	default:
		return bmemory.NewStore(), nil
	}
}

func newQueue(cfg *config.Config, name string) (queue.Queue, error) {
	if cfg.Queue.Backend == config.QueueNATS {
		return qnats.New(&qnats.Config{
			URL:               cfg.Queue.URL,
			ConnName:          "sagamatch-" + name,
			Queue:             name,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			FetchWait:         cfg.Queue.FetchWait,
		})
	}
	return qmemory.New(qmemory.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout)), nil
}
