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

// Package saga is the runtime-agnostic contract between saga definitions and
// the durable executor that runs them.
//
// A Definition never performs I/O. The executor repeatedly hands it the
// recorded state of an instance and the definition answers with a Decision:
// the next call or calls to run, or a terminal result. Because Next only
// reads recorded input, outcomes and signals, replaying it after a restart
// yields the same calls in the same order.
package saga

import (
	"context"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
)

// SignalCancel is accepted by every saga and moves it to Cancelled before
// its next step.
const SignalCancel = "cancel"

// Executor is the capability set the orchestration core needs from a
// durable execution engine.
type Executor interface {
	Start(ctx context.Context, sagaType api.SagaType, businessKey string, input any) (string, error)
	RunStep(ctx context.Context, sagaID string, call activity.Call) ([]byte, error)
	Signal(ctx context.Context, sagaID, name string, args ...any) error
	Status(ctx context.Context, sagaID string) (api.StatusView, error)
}

// SignalHandler validates signal arguments before the signal is recorded.
type SignalHandler func(args []any) error

type Definition interface {
	Type() api.SagaType

	// Activities lists every activity name Next may issue.
	Activities() []string

	Signals() map[string]SignalHandler

	// Policy and Timeout apply to calls that do not set their own.
	Policy() retry.Policy
	Timeout() time.Duration

	Next(s *State) Decision
}

type Decision struct {
	// Step is the index of the first call. Calls occupy consecutive indexes
	// and run concurrently when there is more than one.
	Step  int
	Calls []activity.Call

	Result  any
	Failure string
}

func (d Decision) Terminal() bool { return len(d.Calls) == 0 }
func (d Decision) Failed() bool   { return d.Terminal() && d.Failure != "" }

func Complete(result any) Decision { return Decision{Result: result} }

func Fail(err error) Decision {
	msg := "saga failed"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Decision{Failure: msg}
}
