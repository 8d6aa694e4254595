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

// Package artifact turns storage-event subjects into artifact references and
// derives the location of the complementary artifact of a saga.
//
// A subject has the shape
//
//	/{service}/{account}/{kind}/{container}/{collection}/{prefix...}/{type}_{timestamp}_{correlationId}.{ext}
//
// Only the container (fifth segment) and the blob path (seventh segment
// onwards) are interpreted.
package artifact

import (
	"strings"

	serrors "github.com/tochemey/sagamatch/errors"
)

const (
	minSegments    = 7
	containerIndex = 4
	blobStartIndex = 6
)

// Artifact is a parsed reference to one side of a saga.
type Artifact struct {
	// Container is the storage container holding the artifact.
	Container string
	// PathPrefix is the blob path without the filename. It may be empty.
	PathPrefix string
	// Kind is the artifact type encoded in the filename.
	Kind Kind
	// Timestamp is the creation time encoded in the filename (unix seconds).
	Timestamp string
	// CorrelationID is the identifier shared by both artifacts of a saga.
	CorrelationID string
	// Extension is the file extension without the dot.
	Extension string
	// Location is the blob path relative to the container.
	Location string
}

// Parse reads a storage-event subject. Every failure wraps
// errors.ErrMalformedNotification.
func Parse(subject string) (*Artifact, error) {
	segments := strings.Split(subject, "/")
	if len(segments) < minSegments {
		return nil, serrors.NewErrMalformedNotification("subject %q has %d segments, expected at least %d", subject, len(segments), minSegments)
	}

	container := segments[containerIndex]
	if container == "" {
		return nil, serrors.NewErrMalformedNotification("subject %q has no container", subject)
	}

	blobParts := segments[blobStartIndex:]
	for _, part := range blobParts {
		if part == "" {
			return nil, serrors.NewErrMalformedNotification("subject %q has an empty path segment", subject)
		}
	}

	filename := blobParts[len(blobParts)-1]
	kind, timestamp, correlationID, extension, err := parseFilename(filename)
	if err != nil {
		return nil, serrors.NewErrMalformedNotification("subject %q: %v", subject, err)
	}

	return &Artifact{
		Container:     container,
		PathPrefix:    strings.Join(blobParts[:len(blobParts)-1], "/"),
		Kind:          kind,
		Timestamp:     timestamp,
		CorrelationID: correlationID,
		Extension:     extension,
		Location:      strings.Join(blobParts, "/"),
	}, nil
}

// ParseLocation reads a blob path relative to a container, as returned by
// tag queries.
func ParseLocation(container, location string) (*Artifact, error) {
	return Parse(Subject(container, location))
}

// Subject builds the storage-event subject announcing location in container.
func Subject(container, location string) string {
	return "/blobServices/default/containers/" + container + "/blobs/" + location
}

// Filename returns the filename of the artifact.
func (a *Artifact) Filename() string {
	return a.Kind.String() + "_" + a.Timestamp + "_" + a.CorrelationID + "." + a.Extension
}

// Sibling returns the complementary artifact. Only the type token changes.
func (a *Artifact) Sibling() *Artifact {
	sibling := *a
	sibling.Kind = a.Kind.Other()
	sibling.Location = join(sibling.PathPrefix, sibling.Filename())
	return &sibling
}

// SiblingLocation returns the location of the complementary artifact.
func (a *Artifact) SiblingLocation() string {
	return a.Sibling().Location
}

// Subject returns the storage-event subject of the artifact.
func (a *Artifact) Subject() string {
	return Subject(a.Container, a.Location)
}

func join(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}
