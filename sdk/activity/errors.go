// Copyright 2025 The Evergreen Dragon OS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package activity

import (
	"errors"
	"fmt"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
)

var (
	// ErrActivityNotRegistered is returned when a call names an activity nobody bound.
	ErrActivityNotRegistered = errors.New("activity not registered")

	ErrActivityAlreadyRegistered = errors.New("activity already registered")
)

// RetryableError marks a transient failure: network errors, timeouts,
// temporarily unavailable collaborators.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string { return e.Cause.Error() }
func (e *RetryableError) Unwrap() error { return e.Cause }
func (e *RetryableError) Fatal() bool   { return false }

// FatalError marks a failure that retrying cannot fix, such as a validation
// error or a permanently rejected compliance check.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return e.Cause.Error() }
func (e *FatalError) Unwrap() error { return e.Cause }
func (e *FatalError) Fatal() bool   { return true }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Cause: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Cause: err}
}

// Fatalf builds a fatal error from a message.
func Fatalf(format string, args ...any) error {
	return &FatalError{Cause: fmt.Errorf(format, args...)}
}

func IsFatal(err error) bool { return retry.IsFatal(err) }

var (
	_ retry.Classified = (*RetryableError)(nil)
	_ retry.Classified = (*FatalError)(nil)
	_ retry.Classified = (*TimeoutError)(nil)
)

// TimeoutError is reported when an attempt outlives its call timeout.
type TimeoutError struct {
	Activity string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("activity %s timed out after %s", e.Activity, e.Timeout)
}

func (e *TimeoutError) Fatal() bool { return false }

// PanicError wraps a value recovered from a panicking activity.
type PanicError struct {
	Activity string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("activity %s panicked: %v", e.Activity, e.Value)
}

func (e *PanicError) Fatal() bool { return true }
