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
	"testing"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := (&serde.JsonSerde{}).SerializeBinary(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestReplayRun(t *testing.T) {
	inst := &api.SagaInstance{
		ID:    "asset-unwind-A1-1",
		Type:  api.AssetUnwind,
		Input: mustEncode(t, map[string]string{"asset_id": "A1"}),
		Outcomes: []api.StepOutcome{
			{Step: 0, Activity: "requestBids", Output: mustEncode(t, []int{3, 1})},
			{Step: 1, Activity: "computeHaircut", Error: "pricing service unavailable"},
		},
	}
	r := NewState(inst, &serde.JsonSerde{}).Replay()

	var bids []int
	if err := r.Run(activity.Call{Name: "requestBids"}, &bids); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	if len(bids) != 2 || bids[0] != 3 {
		t.Errorf("bids = %v", bids)
	}

	err := r.Run(activity.Call{Name: "computeHaircut"}, nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Error() != "pricing service unavailable" {
		t.Fatalf("step 1 error = %v", err)
	}

	err = r.Run(activity.Call{Name: "rejectKYC"}, nil)
	if !IsPending(err) {
		t.Fatalf("step 2 should be pending, got %v", err)
	}
	dec := r.Stop(err)
	if dec.Step != 2 || len(dec.Calls) != 1 || dec.Calls[0].Name != "rejectKYC" {
		t.Errorf("pending decision = %+v", dec)
	}

	// Once pending, later calls never replace the captured decision.
	if err := r.Run(activity.Call{Name: "other"}, nil); !IsPending(err) {
		t.Errorf("expected pending, got %v", err)
	}
	if r.Pending().Calls[0].Name != "rejectKYC" {
		t.Error("pending decision was overwritten")
	}
}

func TestReplayRunAllWaitsForEveryCall(t *testing.T) {
	inst := &api.SagaInstance{
		ID: "valuation-cycle-Q1-2025-1",
		Outcomes: []api.StepOutcome{
			{Step: 0, Activity: "fetchAppraisal", Output: mustEncode(t, "a")},
			{Step: 2, Activity: "fetchAppraisal", Output: mustEncode(t, "c")},
		},
	}
	calls := []activity.Call{{Name: "fetchAppraisal"}, {Name: "fetchAppraisal"}, {Name: "fetchAppraisal"}}

	r := NewState(inst, &serde.JsonSerde{}).Replay()
	err := r.RunAll(calls, nil)
	if !IsPending(err) {
		t.Fatalf("expected pending, got %v", err)
	}
	if dec := r.Pending(); dec.Step != 0 || len(dec.Calls) != 3 {
		t.Errorf("decision = %+v", dec)
	}

	inst.Outcomes = append(inst.Outcomes, api.StepOutcome{Step: 1, Activity: "fetchAppraisal", Output: mustEncode(t, "b")})
	r = NewState(inst, &serde.JsonSerde{}).Replay()
	outs := make([]string, 3)
	if err := r.RunAll(calls, []any{&outs[0], &outs[1], &outs[2]}); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if outs[0] != "a" || outs[1] != "b" || outs[2] != "c" {
		t.Errorf("outs = %v", outs)
	}
	if r.Pos() != 3 {
		t.Errorf("Pos = %d, want 3", r.Pos())
	}
}

func TestReplayDetectsNonDeterminism(t *testing.T) {
	inst := &api.SagaInstance{Outcomes: []api.StepOutcome{{Step: 0, Activity: "requestBids"}}}
	r := NewState(inst, &serde.JsonSerde{}).Replay()
	if err := r.Run(activity.Call{Name: "settleTransaction"}, nil); !errors.Is(err, ErrNonDeterministic) {
		t.Errorf("expected non-determinism error, got %v", err)
	}
}

func TestReplaySignalsRespectDispatchPosition(t *testing.T) {
	conv := &serde.JsonSerde{}
	inst := &api.SagaInstance{
		Outcomes: []api.StepOutcome{{Step: 0, Activity: "requestBids"}},
		Signals: []api.SignalRecord{
			{Name: "setReservePrice", Args: mustEncode(t, []any{900000}), AtStep: 0},
			{Name: "setReservePrice", Args: mustEncode(t, []any{990000}), AtStep: 2},
		},
	}
	r := NewState(inst, conv).Replay()

	if got := r.Signals("setReservePrice"); len(got) != 1 {
		t.Fatalf("signals at pos 0 = %v", got)
	}
	_ = r.Run(activity.Call{Name: "requestBids"}, nil)
	if got := r.Signals("setReservePrice"); len(got) != 1 {
		t.Errorf("signals at pos 1 = %v", got)
	}

	var amount float64
	if err := r.Convert(r.Signals("setReservePrice")[0][0], &amount); err != nil || amount != 900000 {
		t.Errorf("Convert = %v, %v", amount, err)
	}
}

func TestDecisionHelpers(t *testing.T) {
	if d := Complete(nil); !d.Terminal() || d.Failed() {
		t.Errorf("Complete(nil) = %+v", d)
	}
	if d := Fail(errors.New("No bids received")); !d.Failed() || d.Failure != "No bids received" {
		t.Errorf("Fail = %+v", d)
	}
	if !IsDuplicate(&DuplicateSagaError{Type: api.KYC, BusinessKey: "I1"}) {
		t.Error("IsDuplicate should match DuplicateSagaError")
	}
}
