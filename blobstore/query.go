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

package blobstore

import (
	"sort"
	"strconv"
)

// Query selects artifacts by tags. All predicates must hold.
type Query struct {
	// Equals maps a tag name to its required value.
	Equals map[string]string
	// GreaterThan maps a tag name to an exclusive lower bound. Values that
	// both parse as integers compare numerically, otherwise as strings.
	GreaterThan map[string]string
}

// Where returns a query on a single equality predicate.
func Where(tag, value string) Query {
	return Query{Equals: map[string]string{tag: value}}
}

// And adds an equality predicate.
func (q Query) And(tag, value string) Query {
	equals := CopyTags(q.Equals)
	equals[tag] = value
	return Query{Equals: equals, GreaterThan: q.GreaterThan}
}

// AndGreaterThan adds an exclusive lower bound predicate.
func (q Query) AndGreaterThan(tag, bound string) Query {
	greater := CopyTags(q.GreaterThan)
	greater[tag] = bound
	return Query{Equals: q.Equals, GreaterThan: greater}
}

// Matches reports whether tags satisfy the query.
func (q Query) Matches(tags map[string]string) bool {
	for tag, want := range q.Equals {
		if got, ok := tags[tag]; !ok || got != want {
			return false
		}
	}
	for tag, bound := range q.GreaterThan {
		got, ok := tags[tag]
		if !ok || !greater(got, bound) {
			return false
		}
	}
	return true
}

func greater(value, bound string) bool {
	v, verr := strconv.ParseInt(value, 10, 64)
	b, berr := strconv.ParseInt(bound, 10, 64)
	if verr == nil && berr == nil {
		return v > b
	}
	return value > bound
}

// SortLocations sorts locations in place and returns them.
func SortLocations(locations []string) []string {
	sort.Strings(locations)
	return locations
}
