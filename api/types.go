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

import (
	"time"
)

type SagaType string

const (
	AssetUnwind    SagaType = "AssetUnwind"
	KYC            SagaType = "KYC"
	ValuationCycle SagaType = "ValuationCycle"
	StressTest     SagaType = "StressTest"
)

// SagaTypes lists every saga type known to the orchestrator.
var SagaTypes = []SagaType{AssetUnwind, KYC, ValuationCycle, StressTest}

func (t SagaType) String() string { return string(t) }

// Slug is the identifier prefix used in saga IDs.
func (t SagaType) Slug() string {
	switch t {
	case AssetUnwind:
		return "asset-unwind"
	case KYC:
		return "kyc"
	case ValuationCycle:
		return "valuation-cycle"
	case StressTest:
		return "stress-test"
	default:
		return string(t)
	}
}

func (t SagaType) Valid() bool {
	for _, known := range SagaTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Outcome string

const (
	OutcomeSuccess          Outcome = "Success"
	OutcomeRetryableFailure Outcome = "RetryableFailure"
	OutcomeFatalFailure     Outcome = "FatalFailure"
)

type (
	// StepRecord is the audit entry for one attempt of one step.
	StepRecord struct {
		Step          int        `json:"step"`
		Activity      string     `json:"activity"`
		Version       string     `json:"version,omitempty"`
		Attempt       int        `json:"attempt"`
		StartedAt     time.Time  `json:"started_at"`
		EndedAt       *time.Time `json:"ended_at,omitempty"`
		Outcome       Outcome    `json:"outcome,omitempty"`
		PayloadDigest string     `json:"payload_digest"`
		Error         string     `json:"error,omitempty"`
	}

	// StepOutcome is the settled result of a step after its last attempt.
	StepOutcome struct {
		Step     int    `json:"step"`
		Activity string `json:"activity"`
		Output   []byte `json:"output,omitempty"`
		Error    string `json:"error,omitempty"`
	}

	SignalRecord struct {
		Name       string    `json:"name"`
		Args       []byte    `json:"args,omitempty"`
		AtStep     int       `json:"at_step"`
		ReceivedAt time.Time `json:"received_at"`
	}

	SagaInstance struct {
		ID          string         `json:"id"`
		Type        SagaType       `json:"type"`
		BusinessKey string         `json:"business_key"`
		Status      Status         `json:"status"`
		CurrentStep int            `json:"current_step"`
		Input       []byte         `json:"input"`
		History     []StepRecord   `json:"history"`
		Outcomes    []StepOutcome  `json:"outcomes"`
		Signals     []SignalRecord `json:"signals,omitempty"`
		Result      []byte         `json:"result,omitempty"`
		Error       string         `json:"error,omitempty"`
		CreatedAt   time.Time      `json:"created_at"`
		UpdatedAt   time.Time      `json:"updated_at"`

		// Revision is the store's concurrency token; it is never serialized.
		Revision uint64 `json:"-" msgpack:"-"`
	}

	// StatusView is what callers observe through getWorkflowStatus.
	StatusView struct {
		SagaID      string       `json:"saga_id"`
		Type        SagaType     `json:"type"`
		Status      Status       `json:"status"`
		CurrentStep int          `json:"current_step"`
		Result      any          `json:"result,omitempty"`
		Error       string       `json:"error,omitempty"`
		History     []StepRecord `json:"history,omitempty"`
	}
)

func (o StepOutcome) Failed() bool { return o.Error != "" }

// Outcome returns the settled outcome for step, if any.
func (s *SagaInstance) Outcome(step int) (StepOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// Attempts counts the attempts already recorded for step.
func (s *SagaInstance) Attempts(step int) int {
	n := 0
	for _, r := range s.History {
		if r.Step == step {
			n++
		}
	}
	return n
}

// ActiveKey identifies the (type, business key) reservation of a saga.
func ActiveKey(t SagaType, businessKey string) string {
	return string(t) + "/" + businessKey
}

// DispatchedSteps is one past the highest step index with an attempt on record.
func (s *SagaInstance) DispatchedSteps() int {
	n := 0
	for _, r := range s.History {
		if r.Step+1 > n {
			n = r.Step + 1
		}
	}
	return n
}

// OpenRecords returns the indexes of attempts that were started but never
// finished, which only happens when the process stopped mid-attempt.
func (s *SagaInstance) OpenRecords() []int {
	var open []int
	for i, r := range s.History {
		if r.EndedAt == nil {
			open = append(open, i)
		}
	}
	return open
}
