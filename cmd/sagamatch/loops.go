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
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/sagamatch/sink"
)

// withRuntime runs fn with a runtime built from the loaded configuration.
func withRuntime(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, rt *runtime) error) (err error) {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts.config, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, rt)
}

func newMatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Run the loop matching new artifact notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				loop, err := rt.matchLoop()
				if err != nil {
					return err
				}
				return loop.Run(ctx)
			})
		},
	}
}

func newResultsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Run the loop reporting completed sagas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				loop, err := rt.resultLoop(nil)
				if err != nil {
					return err
				}
				return loop.Run(ctx)
			})
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the match and result loops in one process",
		Long: `Run the match and result loops in one process.

This is the only way to use the memory queue backend, whose queues are not
shared between processes.

When sweep.interval is set, the artifacts still pending within sweep.window
are requeued to the inbound queue on that interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return runLoops(ctx, rt, nil)
			})
		},
	}
}

// runLoops runs both loops, and the sweep when enabled, until ctx is
// canceled or one of the loops fails.
func runLoops(ctx context.Context, rt *runtime, report sink.ReportFunc) error {
	matchLoop, err := rt.matchLoop()
	if err != nil {
		return err
	}
	resultLoop, err := rt.resultLoop(report)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if rt.config.Sweep.Interval > 0 {
		scheduler, err := rt.sweepScheduler()
		if err != nil {
			return err
		}
		defer scheduler.Stop(context.WithoutCancel(ctx))
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	group.Go(func() error { return matchLoop.Run(ctx) })
	group.Go(func() error { return resultLoop.Run(ctx) })
	return group.Wait()
}
