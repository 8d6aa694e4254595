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
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type pendingOptions struct {
	since   time.Duration
	requeue bool
}

func newPendingCommand(opts *rootOptions) *cobra.Command {
	pending := new(pendingOptions)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List the artifacts still waiting for their sibling",
		Long: `List the order and payment artifacts recorded as pending whose timestamp
falls within the --since window.

With --requeue a fresh notification is sent to the inbound queue for each of
them, so the match loop looks for their sibling again.

Example:
  sagamatch pending --since 1h --storage redis
  sagamatch pending --requeue --config sagamatch.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return runPending(ctx, cmd, rt, pending)
			})
		},
	}

	cmd.Flags().DurationVar(&pending.since, "since", 15*time.Minute, "search window ending now")
	cmd.Flags().BoolVar(&pending.requeue, "requeue", false, "notify the match loop again")
	return cmd
}

func runPending(ctx context.Context, cmd *cobra.Command, rt *runtime, opts *pendingOptions) error {
	sweep, err := rt.sweeper()
	if err != nil {
		return err
	}

	pending, err := sweep.FindPending(ctx, opts.since)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "LOCATION\tTYPE\tID\tTS")
	for _, p := range pending {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.Location, p.State.Type, p.State.ID, p.State.TS)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	if !opts.requeue {
		return nil
	}
	sent, err := sweep.Requeue(ctx, rt.inbound, pending)
	fmt.Fprintf(cmd.OutOrStdout(), "requeued %d of %d\n", sent, len(pending))
	return err
}
