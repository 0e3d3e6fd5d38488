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

// Package sagatest drives saga definitions in memory, answering each call
// from a handler table, so definitions can be tested without an engine.
package sagatest

import (
	"testing"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const maxRounds = 1000

// Handler answers one call. The call input is the value the definition
// built, so handlers may type-assert it.
type Handler func(call activity.Call) (any, error)

type Harness struct {
	def      saga.Definition
	conv     serde.BinarySerde
	handlers map[string]Handler
	inst     *api.SagaInstance

	// Calls lists every dispatched call in dispatch order.
	Calls []activity.Call
}

func New(t testing.TB, def saga.Definition, input any, handlers map[string]Handler) *Harness {
	t.Helper()
	conv := &serde.JsonSerde{}
	data, err := conv.SerializeBinary(input)
	if err != nil {
		t.Fatalf("encode input: %v", err)
	}
	return &Harness{
		def:      def,
		conv:     conv,
		handlers: handlers,
		inst: &api.SagaInstance{
			ID:     "test-saga",
			Type:   def.Type(),
			Status: api.StatusRunning,
			Input:  data,
		},
	}
}

// Signal records a signal as if it arrived once atStep steps were dispatched.
func (h *Harness) Signal(t testing.TB, name string, atStep int, args ...any) {
	t.Helper()
	var data []byte
	if len(args) > 0 {
		var err error
		if data, err = h.conv.SerializeBinary(args); err != nil {
			t.Fatalf("encode signal: %v", err)
		}
	}
	h.inst.Signals = append(h.inst.Signals, api.SignalRecord{
		Name: name, Args: data, AtStep: atStep, ReceivedAt: time.Now(),
	})
}

// Run drives the definition to a terminal decision.
func (h *Harness) Run(t testing.TB) saga.Decision {
	t.Helper()
	for range maxRounds {
		dec := h.def.Next(saga.NewState(h.inst, h.conv))
		if dec.Terminal() {
			return dec
		}
		for i, call := range dec.Calls {
			step := dec.Step + i
			if _, ok := h.inst.Outcome(step); ok {
				continue
			}
			h.Calls = append(h.Calls, call)
			h.inst.History = append(h.inst.History, api.StepRecord{Step: step, Activity: call.Name, Attempt: 1})

			handler, ok := h.handlers[call.Name]
			if !ok {
				t.Fatalf("no handler for %s", call.Name)
			}
			outcome := api.StepOutcome{Step: step, Activity: call.Name}
			out, err := handler(call)
			if err != nil {
				outcome.Error = err.Error()
			} else if outcome.Output, err = h.conv.SerializeBinary(out); err != nil {
				t.Fatalf("encode %s output: %v", call.Name, err)
			}
			h.inst.Outcomes = append(h.inst.Outcomes, outcome)
		}
	}
	t.Fatalf("definition did not terminate after %d rounds", maxRounds)
	return saga.Decision{}
}

// Names lists the activity names of Calls.
func (h *Harness) Names() []string {
	names := make([]string, 0, len(h.Calls))
	for _, c := range h.Calls {
		names = append(names, c.Name)
	}
	return names
}

// Result decodes the result of a completed decision into out.
func (h *Harness) Result(t testing.TB, dec saga.Decision, out any) {
	t.Helper()
	if dec.Failed() {
		t.Fatalf("saga failed: %s", dec.Failure)
	}
	data, err := h.conv.SerializeBinary(dec.Result)
	if err != nil {
		t.Fatalf("encode result: %v", err)
	}
	if err := h.conv.DeserializeBinary(data, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

// Ok returns a handler with a fixed output.
func Ok(out any) Handler {
	return func(activity.Call) (any, error) { return out, nil }
}

// Err returns a handler that always fails with err.
func Err(err error) Handler {
	return func(activity.Call) (any, error) { return nil, err }
}
