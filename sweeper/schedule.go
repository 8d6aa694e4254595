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

package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/queue"
)

// sweepJobKey names the single job of a Scheduler.
const sweepJobKey = "sagamatch-sweep"

// Sweep requeues the artifacts found pending within the last window and
// returns how many notifications were sent.
func (s *Sweeper) Sweep(ctx context.Context, q queue.Queue, window time.Duration) (int, error) {
	pending, err := s.FindPending(ctx, window)
	if err != nil {
		return 0, err
	}
	return s.Requeue(ctx, q, pending)
}

// Scheduler runs Sweep every interval until it is stopped.
type Scheduler struct {
	mu sync.Mutex

	sweeper  *Sweeper
	queue    queue.Queue
	interval time.Duration
	window   time.Duration

	quartzScheduler quartz.Scheduler
	started         *atomic.Bool
	runs            *atomic.Int64
	stopTimeout     time.Duration
}

// NewScheduler creates a Scheduler that requeues to q the artifacts pending
// within window, once every interval.
func NewScheduler(sweeper *Sweeper, q queue.Queue, interval, window time.Duration) (*Scheduler, error) {
	if err := validation.New(validation.FailFast()).
		AddAssertion(sweeper != nil, "sweeper is required").
		AddAssertion(q != nil, "queue is required").
		AddValidator(validation.NewPositiveDurationValidator("sweep interval", interval)).
		AddValidator(validation.NewPositiveDurationValidator("sweep window", window)).
		Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}

	// a single worker keeps two sweeps from overlapping
	quartzScheduler, err := quartz.NewStdScheduler(
		quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)),
		quartz.WithWorkerLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create the sweep scheduler: %w", err)
	}

	return &Scheduler{
		sweeper:         sweeper,
		queue:           q,
		interval:        interval,
		window:          window,
		quartzScheduler: quartzScheduler,
		started:         atomic.NewBool(false),
		runs:            atomic.NewInt64(0),
		stopTimeout:     5 * time.Second,
	}, nil
}

// Start schedules the sweep job. The first sweep runs one interval after
// Start. The scheduler also stops when ctx is canceled.
func (x *Scheduler) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started.Load() {
		return nil
	}

	x.quartzScheduler.Start(ctx)
	x.started.Store(x.quartzScheduler.IsStarted())

	sweepJob := job.NewFunctionJob[int](func(ctx context.Context) (int, error) {
		defer x.runs.Inc()
		sent, err := x.sweeper.Sweep(ctx, x.queue, x.window)
		if err != nil {
			x.sweeper.logger.Warnf("sweep requeued %d artifacts: %v", sent, err)
		}
		return sent, err
	})

	detail := quartz.NewJobDetail(sweepJob, quartz.NewJobKey(sweepJobKey))
	if err := x.quartzScheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(x.interval)); err != nil {
		return fmt.Errorf("failed to schedule the sweep: %w", err)
	}
	x.sweeper.logger.Infof("sweeping pending artifacts every %s over the last %s", x.interval, x.window)
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish.
func (x *Scheduler) Stop(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.started.Load() {
		return
	}

	_ = x.quartzScheduler.Clear()
	x.quartzScheduler.Stop()
	x.started.Store(x.quartzScheduler.IsStarted())

	ctx, cancel := context.WithTimeout(ctx, x.stopTimeout)
	defer cancel()
	x.quartzScheduler.Wait(ctx)
}

// Runs returns how many sweeps have finished.
func (x *Scheduler) Runs() int64 {
	return x.runs.Load()
}
