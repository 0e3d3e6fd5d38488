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

package saga

import (
	"errors"
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api"
)

var (
	// ErrUnknownSagaType is returned when no definition is bound for a saga type.
	ErrUnknownSagaType = errors.New("unknown saga type")

	// ErrPending is returned by Replay when a step has not settled yet.
	ErrPending = errors.New("step pending")

	// ErrNonDeterministic is returned when recorded history no longer matches
	// the calls a definition issues.
	ErrNonDeterministic = errors.New("non-deterministic saga definition")

	// ErrInvalidSignal wraps the error a signal handler rejected arguments with.
	ErrInvalidSignal = errors.New("invalid signal")
)

// DuplicateSagaError reports that an active instance already exists for the
// same saga type and business key. Trigger callers treat it as a no-op.
type DuplicateSagaError struct {
	Type        api.SagaType
	BusinessKey string
	ActiveID    string
}

func (e *DuplicateSagaError) Error() string {
	if e.ActiveID != "" {
		return fmt.Sprintf("saga %s for %q already running as %s", e.Type, e.BusinessKey, e.ActiveID)
	}
	return fmt.Sprintf("saga %s for %q already running", e.Type, e.BusinessKey)
}

func IsDuplicate(err error) bool {
	var dup *DuplicateSagaError
	return errors.As(err, &dup)
}

type UnknownSignalError struct {
	SagaID string
	Signal string
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("saga %s does not handle signal %q", e.SagaID, e.Signal)
}

type SagaNotRunningError struct {
	SagaID string
	Status api.Status
}

func (e *SagaNotRunningError) Error() string {
	return fmt.Sprintf("saga %s is not running (status %s)", e.SagaID, e.Status)
}

// ConfigurationError is raised at startup for a missing routing entry, an
// unknown handler target, an unbound activity or a malformed policy.
type ConfigurationError struct {
	Field string
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Cause)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Cause: fmt.Errorf(format, args...)}
}

// StepError is a settled step failure observed during replay. Its message
// is the activity's last error, verbatim.
type StepError struct {
	Step     int
	Activity string
	Message  string
}

func (e *StepError) Error() string { return e.Message }

func IsPending(err error) bool { return errors.Is(err, ErrPending) }
