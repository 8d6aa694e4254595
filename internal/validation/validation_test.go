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

package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type validationTestSuite struct {
	suite.Suite
}

func TestValidation(t *testing.T) {
	suite.Run(t, new(validationTestSuite))
}

func (s *validationTestSuite) TestNewChain() {
	s.Run("without option", func() {
		chain := New()
		s.Require().NotNil(chain)
		s.Assert().False(chain.failFast)
		s.Assert().Empty(chain.validators)
	})
	s.Run("with options", func() {
		s.Assert().True(New(FailFast()).failFast)
		s.Assert().False(New(FailFast(), AllErrors()).failFast)
	})
}

func (s *validationTestSuite) TestValidate() {
	s.Run("with passing validators", func() {
		err := New().
			AddValidator(NewEmptyStringValidator("bucket", "sagas")).
			AddValidator(NewPositiveDurationValidator("lease", time.Minute)).
			AddValidator(NewOneOfValidator("backend", "nats", "memory", "nats")).
			AddAssertion(true, "never").
			Validate()
		s.Assert().NoError(err)
	})
	s.Run("with FailFast option", func() {
		err := New(FailFast()).
			AddValidator(NewEmptyStringValidator("bucket", " ")).
			AddAssertion(false, "this is false").
			Validate()
		s.Assert().EqualError(err, "the [bucket] is required")
	})
	s.Run("with AllErrors option", func() {
		err := New(AllErrors()).
			AddValidator(NewEmptyStringValidator("bucket", "")).
			AddAssertion(false, "this is false").
			Validate()
		s.Assert().EqualError(err, "the [bucket] is required; this is false")
	})
	s.Run("with duration and enumeration failures", func() {
		err := New().
			AddValidator(NewPositiveDurationValidator("lease", 0)).
			AddValidator(NewOneOfValidator("backend", "s3", "memory", "nats")).
			Validate()
		s.Assert().EqualError(err, "the [lease] must be a positive duration, got 0s; the [backend] must be one of [memory, nats], got \"s3\"")
	})
}
