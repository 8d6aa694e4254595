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

	"github.com/spf13/cobra"

	qmemory "github.com/tochemey/sagamatch/queue/memory"
	qnats "github.com/tochemey/sagamatch/queue/nats"
)

// deadLetter is a dead-lettered message of any queue backend.
type deadLetter struct {
	messageID string
	reason    string
	body      []byte
}

func newDeadLettersCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List the notifications moved to the dead-letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				letters, err := listDeadLetters(ctx, rt, limit)
				if err != nil {
					return err
				}

				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(out, "MESSAGE\tREASON\tBODY")
				for _, letter := range letters {
					fmt.Fprintf(out, "%s\t%s\t%s\n", letter.messageID, letter.reason, letter.body)
				}
				return out.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of dead letters to list")
	return cmd
}

func listDeadLetters(ctx context.Context, rt *runtime, limit int) ([]deadLetter, error) {
	var letters []deadLetter
	switch q := rt.inbound.(type) {
	case *qnats.Queue:
		stored, err := q.DeadLetters(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, letter := range stored {
			letters = append(letters, deadLetter{messageID: letter.MessageID, reason: letter.Reason, body: letter.Body})
		}
	case *qmemory.Queue:
		for _, letter := range q.DeadLetters() {
			if len(letters) == limit {
				break
			}
			letters = append(letters, deadLetter{messageID: letter.Message.ID, reason: letter.Reason, body: letter.Message.Body})
		}
	default:
		return nil, fmt.Errorf("listing dead letters is not supported by %T", rt.inbound)
	}
	return letters, nil
}
