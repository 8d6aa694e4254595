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

// Package saga holds the saga state model. The state of each side of a saga
// is kept as tags on the artifact itself.
package saga

import (
	"fmt"

	"github.com/tochemey/sagamatch/artifact"
	serrors "github.com/tochemey/sagamatch/errors"
)

// Tag names of the saga schema.
const (
	TagType      = "type"
	TagStatus    = "status"
	TagID        = "id"
	TagTimestamp = "ts"
)

// Status is the lifecycle of one side of a saga. It only moves forward.
type Status string

const (
	// StatusPending means the artifact waits for its sibling.
	StatusPending Status = "pending"
	// StatusCompleted means the saga was matched. It is terminal.
	StatusCompleted Status = "completed"
)

// ParseStatus validates s. The empty string reads as StatusPending, the
// status of an artifact nobody touched yet.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusPending:
		return StatusPending, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", serrors.ErrInvalidTags, s)
	}
}

func (s Status) String() string {
	return string(s)
}

// State is the saga state of one artifact.
type State struct {
	ID     string        `json:"id"`
	Type   artifact.Kind `json:"type"`
	Status Status        `json:"status"`
	TS     string        `json:"ts"`
}

// FromTags reads the saga fields of tags. Absent fields stay empty, except
// the status which defaults to pending.
func FromTags(tags map[string]string) (*State, error) {
	status, err := ParseStatus(tags[TagStatus])
	if err != nil {
		return nil, err
	}

	state := &State{ID: tags[TagID], Status: status, TS: tags[TagTimestamp]}
	if kind := tags[TagType]; kind != "" {
		state.Type, err = artifact.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidTags, err)
		}
	}
	return state, nil
}

// Backfill sets the fields the tags did not carry from the artifact
// reference. Tags that contradict the reference are rejected.
func (s *State) Backfill(a *artifact.Artifact) error {
	if s.Type == "" {
		s.Type = a.Kind
	}
	if s.ID == "" {
		s.ID = a.CorrelationID
	}
	if s.TS == "" {
		s.TS = a.Timestamp
	}
	if s.Status == "" {
		s.Status = StatusPending
	}

	if s.Type != a.Kind {
		return fmt.Errorf("%w: location=(%s) tagged %s", serrors.ErrInvalidTags, a.Location, s.Type)
	}
	if s.ID != a.CorrelationID {
		return fmt.Errorf("%w: location=(%s) tagged with id %s", serrors.ErrInvalidTags, a.Location, s.ID)
	}
	return nil
}

// Completed reports whether the saga is matched.
func (s *State) Completed() bool {
	return s.Status == StatusCompleted
}

// WithStatus returns a copy of the state carrying status.
func (s *State) WithStatus(status Status) *State {
	next := *s
	next.Status = status
	return &next
}

// Tags returns base with the saga fields of s written over it. Tags outside
// the saga schema are kept. base is not modified.
func (s *State) Tags(base map[string]string) map[string]string {
	tags := make(map[string]string, len(base)+4)
	for k, v := range base {
		tags[k] = v
	}
	tags[TagType] = s.Type.String()
	tags[TagStatus] = s.Status.String()
	tags[TagID] = s.ID
	tags[TagTimestamp] = s.TS
	return tags
}
