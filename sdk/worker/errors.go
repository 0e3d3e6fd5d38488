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

package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is returned when a worker is built without a connection.
	ErrNoConnection = errors.New("no NATS connection")

	// ErrWorkerStarted is returned when registering after Run was called.
	ErrWorkerStarted = errors.New("worker already started")
)

// RegistrationError represents an error that occurred during activity registration
type RegistrationError struct {
	ActivityName string
	Cause        error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register activity %s: %v", e.ActivityName, e.Cause)
}

func (e *RegistrationError) Unwrap() error {
	return e.Cause
}
