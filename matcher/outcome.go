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

package matcher

// Outcome is what Handle did with a notification.
type Outcome int

const (
	// OutcomeFailed means an error interrupted the transaction. The
	// notification is left for redelivery.
	OutcomeFailed Outcome = iota
	// OutcomePending means the sibling does not exist yet. The artifact is
	// recorded as pending and the notification deleted.
	OutcomePending
	// OutcomeCompleted means both artifacts were marked completed and the
	// saga result was published.
	OutcomeCompleted
	// OutcomeAlreadyCompleted means the artifact was already completed.
	// Nothing is written.
	OutcomeAlreadyCompleted
	// OutcomeRaceLost means the sibling was already completed by another
	// worker. The artifact is marked completed and no result is published.
	OutcomeRaceLost
	// OutcomeContended means another worker holds one of the leases. The
	// notification is left for redelivery.
	OutcomeContended
	// OutcomeLeaseLost means a lease lapsed or changed hands mid-transaction.
	// The notification is left for redelivery.
	OutcomeLeaseLost
	// OutcomeDeadLettered means the notification was moved to the dead-letter queue.
	OutcomeDeadLettered
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyCompleted:
		return "already_completed"
	case OutcomeRaceLost:
		return "race_lost"
	case OutcomeContended:
		return "contended"
	case OutcomeLeaseLost:
		return "lease_lost"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "failed"
	}
}

// Completed reports whether this outcome published a saga result.
func (o Outcome) Completed() bool {
	return o == OutcomeCompleted
}

// acknowledged reports whether the notification is deleted after this outcome.
func (o Outcome) acknowledged() bool {
	switch o {
	case OutcomePending, OutcomeCompleted, OutcomeAlreadyCompleted, OutcomeRaceLost:
		return true
	default:
		return false
	}
}
