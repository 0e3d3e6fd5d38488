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
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

// State is the read-only view of an instance handed to Definition.Next.
type State struct {
	SagaID string
	Type   api.SagaType

	input    []byte
	outcomes map[int]api.StepOutcome
	signals  []api.SignalRecord
	conv     serde.BinarySerde
}

func NewState(inst *api.SagaInstance, conv serde.BinarySerde) *State {
	outcomes := make(map[int]api.StepOutcome, len(inst.Outcomes))
	for _, o := range inst.Outcomes {
		outcomes[o.Step] = o
	}
	return &State{
		SagaID:   inst.ID,
		Type:     inst.Type,
		input:    inst.Input,
		outcomes: outcomes,
		signals:  inst.Signals,
		conv:     conv,
	}
}

// Input decodes the creation snapshot into v.
func (s *State) Input(v any) error {
	if err := s.conv.DeserializeBinary(s.input, v); err != nil {
		return fmt.Errorf("decode %s input: %w", s.Type, err)
	}
	return nil
}

func (s *State) Replay() *Replay {
	return &Replay{s: s}
}

// Replay walks recorded outcomes in step order. Each Run either consumes
// the next recorded outcome or, when none exists yet, captures the call as
// the pending decision.
type Replay struct {
	s       *State
	pos     int
	pending *Decision
}

// Pos is the index the next Run will consume.
func (r *Replay) Pos() int { return r.pos }

// Run consumes one step. It returns nil on success (decoding the output into
// out when out is non-nil), ErrPending when the step has not settled, or a
// *StepError carrying the recorded failure.
func (r *Replay) Run(call activity.Call, out any) error {
	return r.RunAll([]activity.Call{call}, []any{out})
}

// RunAll consumes len(calls) consecutive steps that run concurrently.
// outs may be nil or hold one decode target per call. When several calls
// failed, the error of the lowest step is returned.
func (r *Replay) RunAll(calls []activity.Call, outs []any) error {
	if r.pending != nil {
		return ErrPending
	}
	if len(calls) == 0 {
		return nil
	}

	for i := range calls {
		if _, ok := r.s.outcomes[r.pos+i]; !ok {
			r.pending = &Decision{Step: r.pos, Calls: calls}
			return ErrPending
		}
	}

	var first error
	for i, call := range calls {
		step := r.pos + i
		o := r.s.outcomes[step]
		if o.Activity != call.Name {
			return fmt.Errorf("%w: step %d recorded %s, definition issued %s",
				ErrNonDeterministic, step, o.Activity, call.Name)
		}
		if o.Failed() {
			if first == nil {
				first = &StepError{Step: step, Activity: o.Activity, Message: o.Error}
			}
			continue
		}
		if outs == nil || i >= len(outs) || outs[i] == nil {
			continue
		}
		if err := r.s.conv.DeserializeBinary(o.Output, outs[i]); err != nil {
			return fmt.Errorf("decode output of step %d (%s): %w", step, o.Activity, err)
		}
	}
	r.pos += len(calls)
	return first
}

// Pending returns the captured decision. It is only meaningful after a Run
// returned ErrPending.
func (r *Replay) Pending() Decision {
	if r.pending == nil {
		return Decision{Failure: "saga definition returned no decision"}
	}
	return *r.pending
}

// Stop turns a Run error into the decision Next should return: the pending
// call when the step has not settled, otherwise a failure carrying err.
func (r *Replay) Stop(err error) Decision {
	if IsPending(err) {
		return r.Pending()
	}
	return Fail(err)
}

// Signals returns the args of every signal called name that was received
// before the step at the current position was dispatched, in arrival order.
func (r *Replay) Signals(name string) [][]any {
	var out [][]any
	for _, sig := range r.s.signals {
		if sig.Name != name || sig.AtStep > r.pos {
			continue
		}
		var args []any
		if len(sig.Args) > 0 {
			if err := r.s.conv.DeserializeBinary(sig.Args, &args); err != nil {
				continue
			}
		}
		out = append(out, args)
	}
	return out
}

// Convert decodes a loosely typed signal argument into out.
func (r *Replay) Convert(arg any, out any) error {
	return serde.NewTypeConverter(r.s.conv).ConvertInto(arg, out)
}
