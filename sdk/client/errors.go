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

package client

import (
	"errors"
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api"
)

var (
	// ErrSagaAlreadyRunning is returned when attempting to start a saga that is already running
	ErrSagaAlreadyRunning = errors.New("saga already running")

	// ErrNoConnection is returned when the NATS connection is not established
	ErrNoConnection = errors.New("no NATS connection")

	// ErrTimeout is returned when an operation times out
	ErrTimeout = errors.New("operation timed out")
)

// CommandError is a command the orchestrator received and rejected.
type CommandError struct {
	Command api.SagaCommandType
	SagaID  string
	Message string
}

func (e *CommandError) Error() string {
	if e.SagaID != "" {
		return fmt.Sprintf("%s %s: %s", e.Command, e.SagaID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}
