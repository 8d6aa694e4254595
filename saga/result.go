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

package saga

import (
	"encoding/json"
	"fmt"

	"github.com/tochemey/sagamatch/artifact"
	serrors "github.com/tochemey/sagamatch/errors"
)

const deduplicationPrefix = "saga-result/"

// Result is the completion event of a matched saga.
type Result struct {
	// Sagas holds the order state then the payment state.
	Sagas []*State `json:"sagas"`
	// OrderLocation is the location of the order artifact.
	OrderLocation string `json:"order_location"`
	// PaymentLocation is the location of the payment artifact.
	PaymentLocation string `json:"payment_location"`
}

// NewResult pairs two completed sides of a saga. The argument order does not
// matter: each location lands in the field of its kind.
func NewResult(a *artifact.Artifact, aState *State, b *artifact.Artifact, bState *State) (*Result, error) {
	if a.Kind == b.Kind {
		return nil, fmt.Errorf("%w: both sides are %s", serrors.ErrInvalidResult, a.Kind)
	}
	if a.CorrelationID != b.CorrelationID {
		return nil, fmt.Errorf("%w: correlation ids %s and %s differ", serrors.ErrInvalidResult, a.CorrelationID, b.CorrelationID)
	}

	if a.Kind == artifact.Payment {
		a, b = b, a
		aState, bState = bState, aState
	}
	return &Result{
		Sagas:           []*State{aState, bState},
		OrderLocation:   a.Location,
		PaymentLocation: b.Location,
	}, nil
}

// DecodeResult reads a completion event. Every failure wraps ErrInvalidResult.
func DecodeResult(payload []byte) (*Result, error) {
	result := new(Result)
	if err := json.Unmarshal(payload, result); err != nil {
		return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidResult, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks the event names both artifacts of one saga.
func (r *Result) Validate() error {
	switch {
	case r.OrderLocation == "" || r.PaymentLocation == "":
		return fmt.Errorf("%w: missing location", serrors.ErrInvalidResult)
	case len(r.Sagas) != 2 || r.Sagas[0] == nil || r.Sagas[1] == nil:
		return fmt.Errorf("%w: expected two sagas", serrors.ErrInvalidResult)
	case r.Sagas[0].ID != r.Sagas[1].ID:
		return fmt.Errorf("%w: sagas carry different ids", serrors.ErrInvalidResult)
	}
	return nil
}

// Encode returns the JSON form of the event.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// CorrelationID returns the id shared by both sagas.
func (r *Result) CorrelationID() string {
	if len(r.Sagas) == 0 || r.Sagas[0] == nil {
		return ""
	}
	return r.Sagas[0].ID
}

// DeduplicationID is the id the completion event of a saga is published
// under. Queues drop a second event carrying the same id.
func DeduplicationID(correlationID string) string {
	return deduplicationPrefix + correlationID
}
