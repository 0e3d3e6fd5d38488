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

package api

import "time"

type SagaEvent interface {
	EventName() string

	isSagaEvent()
}

var _ SagaEvent = (*SagaStarted)(nil)
var _ SagaEvent = (*StepStarted)(nil)
var _ SagaEvent = (*StepCompleted)(nil)
var _ SagaEvent = (*StepFailed)(nil)
var _ SagaEvent = (*SagaSignaled)(nil)
var _ SagaEvent = (*SagaCompleted)(nil)
var _ SagaEvent = (*SagaFailed)(nil)
var _ SagaEvent = (*SagaCancelled)(nil)

// -- Saga Started Event --
type SagaStarted struct {
	ID          string    `json:"id"`
	Type        SagaType  `json:"type"`
	BusinessKey string    `json:"business_key"`
	At          time.Time `json:"at"`
}

func (*SagaStarted) EventName() string { return "saga/started" }
func (*SagaStarted) isSagaEvent()      {}

// -- Step Started Event --
type StepStarted struct {
	ID       string    `json:"id"`
	Step     int       `json:"step"`
	Activity string    `json:"activity"`
	Attempt  int       `json:"attempt"`
	Digest   string    `json:"digest"`
	At       time.Time `json:"at"`
}

func (*StepStarted) EventName() string { return "step/started" }
func (*StepStarted) isSagaEvent()      {}

// -- Step Completed Event --
type StepCompleted struct {
	ID       string    `json:"id"`
	Step     int       `json:"step"`
	Activity string    `json:"activity"`
	Attempt  int       `json:"attempt"`
	At       time.Time `json:"at"`
}

func (*StepCompleted) EventName() string { return "step/completed" }
func (*StepCompleted) isSagaEvent()      {}

// -- Step Failed Event --
type StepFailed struct {
	ID        string    `json:"id"`
	Step      int       `json:"step"`
	Activity  string    `json:"activity"`
	Attempt   int       `json:"attempt"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error"`
	WillRetry bool      `json:"will_retry"`
	At        time.Time `json:"at"`
}

func (*StepFailed) EventName() string { return "step/failed" }
func (*StepFailed) isSagaEvent()      {}

// -- Saga Signaled Event --
type SagaSignaled struct {
	ID     string    `json:"id"`
	Signal string    `json:"signal"`
	At     time.Time `json:"at"`
}

func (*SagaSignaled) EventName() string { return "saga/signaled" }
func (*SagaSignaled) isSagaEvent()      {}

// -- Saga Completed --
type SagaCompleted struct {
	ID     string    `json:"id"`
	Type   SagaType  `json:"type"`
	Result []byte    `json:"result"`
	At     time.Time `json:"at"`
}

func (*SagaCompleted) EventName() string { return "saga/completed" }
func (*SagaCompleted) isSagaEvent()      {}

// -- Saga Failed --
type SagaFailed struct {
	ID    string    `json:"id"`
	Type  SagaType  `json:"type"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

func (*SagaFailed) EventName() string { return "saga/failed" }
func (*SagaFailed) isSagaEvent()      {}

// -- Saga Cancelled --
type SagaCancelled struct {
	ID   string    `json:"id"`
	Type SagaType  `json:"type"`
	At   time.Time `json:"at"`
}

func (*SagaCancelled) EventName() string { return "saga/cancelled" }
func (*SagaCancelled) isSagaEvent()      {}

// Completion is the out-of-band notification published when a saga ends.
type Completion struct {
	SagaID string    `json:"saga_id"`
	Type   SagaType  `json:"type"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}
