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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/executor"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/assetunwind"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/kyc"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/stresstest"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/valuation"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

type started struct {
	sagaType api.SagaType
	key      string
	input    any
}

// fakeExecutor records starts and rejects a second start for an active key.
type fakeExecutor struct {
	mu      sync.Mutex
	starts  []started
	active  map[string]string
	signals []string
}

var _ saga.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Start(_ context.Context, sagaType api.SagaType, key string, input any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[string]string{}
	}
	if id, ok := f.active[api.ActiveKey(sagaType, key)]; ok {
		return "", &saga.DuplicateSagaError{Type: sagaType, BusinessKey: key, ActiveID: id}
	}
	id := fmt.Sprintf("%s-%s-%d", sagaType.Slug(), key, len(f.starts)+1)
	f.active[api.ActiveKey(sagaType, key)] = id
	f.starts = append(f.starts, started{sagaType, key, input})
	return id, nil
}

func (f *fakeExecutor) RunStep(context.Context, string, activity.Call) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExecutor) Signal(_ context.Context, sagaID, name string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "unknown" {
		return &saga.UnknownSignalError{SagaID: sagaID, Signal: name}
	}
	f.signals = append(f.signals, sagaID+"/"+name)
	return nil
}

func (f *fakeExecutor) Status(_ context.Context, sagaID string) (api.StatusView, error) {
	return api.StatusView{SagaID: sagaID, Status: api.StatusRunning}, nil
}

func newScheduler() (*Scheduler, *fakeExecutor) {
	exec := &fakeExecutor{}
	return New(exec, &serde.JsonSerde{}), exec
}

func TestScheduler_BusinessKeys(t *testing.T) {
	ctx := context.Background()
	s, exec := newScheduler()
	scenarios := []stresstest.Scenario{{Name: "rate-shock", Parameters: map[string]float64{"rates": 0.02}}}
	scenarioKey, err := ScenarioKey(scenarios)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		trigger func() (string, error)
		typ     api.SagaType
		key     string
	}{
		{
			name:    "asset unwind",
			trigger: func() (string, error) { return s.TriggerAssetUnwind(ctx, "A1", "liquidity") },
			typ:     api.AssetUnwind,
			key:     "A1",
		},
		{
			name:    "valuation cycle",
			trigger: func() (string, error) { return s.TriggerValuationCycle(ctx, "Q3", 2025, "A1", "A2") },
			typ:     api.ValuationCycle,
			key:     "Q3-2025",
		},
		{
			name:    "stress test",
			trigger: func() (string, error) { return s.TriggerStressTest(ctx, scenarios) },
			typ:     api.StressTest,
			key:     scenarioKey,
		},
		{
			name:    "kyc",
			trigger: func() (string, error) { return s.TriggerKYC(ctx, "inv-7", []kyc.Document{{Type: "passport"}}) },
			typ:     api.KYC,
			key:     "inv-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.trigger()
			if err != nil {
				t.Fatalf("trigger: %v", err)
			}
			if id == "" {
				t.Fatal("empty saga ID")
			}
			last := exec.starts[len(exec.starts)-1]
			if last.sagaType != tt.typ || last.key != tt.key {
				t.Errorf("started %s/%s, want %s/%s", last.sagaType, last.key, tt.typ, tt.key)
			}

			_, err = tt.trigger()
			if !saga.IsDuplicate(err) {
				t.Errorf("second trigger error = %v, want duplicate", err)
			}
		})
	}
}

func TestScenarioKey(t *testing.T) {
	a := []stresstest.Scenario{{Name: "s", Parameters: map[string]float64{"x": 1, "y": 2}}}
	b := []stresstest.Scenario{{Name: "s", Parameters: map[string]float64{"y": 2, "x": 1}}}
	c := []stresstest.Scenario{{Name: "s", Parameters: map[string]float64{"x": 1, "y": 3}}}

	ka, _ := ScenarioKey(a)
	kb, _ := ScenarioKey(b)
	kc, _ := ScenarioKey(c)
	if len(ka) != scenarioKeyLen {
		t.Errorf("key length = %d", len(ka))
	}
	if ka != kb {
		t.Errorf("equal scenarios keyed differently: %s %s", ka, kb)
	}
	if ka == kc {
		t.Error("different scenarios share a key")
	}
}

func TestScheduler_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s, exec := newScheduler()

	calls := map[string]func() error{
		"asset":    func() error { _, err := s.TriggerAssetUnwind(ctx, " ", "r"); return err },
		"quarter":  func() error { _, err := s.TriggerValuationCycle(ctx, "", 2025); return err },
		"year":     func() error { _, err := s.TriggerValuationCycle(ctx, "Q1", 0); return err },
		"scenario": func() error { _, err := s.TriggerStressTest(ctx, nil); return err },
		"name":     func() error { _, err := s.TriggerStressTest(ctx, []stresstest.Scenario{{}}); return err },
		"investor": func() error { _, err := s.TriggerKYC(ctx, "", nil); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: error = %v, want ErrInvalidInput", name, err)
		}
	}
	if len(exec.starts) != 0 {
		t.Errorf("invalid triggers reached the executor: %v", exec.starts)
	}
}

func TestScheduler_TriggerFromPayload(t *testing.T) {
	ctx := context.Background()
	s, exec := newScheduler()

	tests := []struct {
		name    string
		typ     api.SagaType
		payload map[string]any
		check   func(t *testing.T, in any)
	}{
		{
			name:    "asset unwind",
			typ:     api.AssetUnwind,
			payload: map[string]any{"assetId": "A9", "reason": "rebalance"},
			check: func(t *testing.T, in any) {
				if got := in.(assetunwind.Input); got.AssetID != "A9" || got.Reason != "rebalance" {
					t.Errorf("input = %+v", got)
				}
			},
		},
		{
			name:    "nested payload",
			typ:     api.ValuationCycle,
			payload: map[string]any{"event_type": "VALUATION_REQUESTED", "payload": map[string]any{"quarter": "Q2", "year": float64(2026), "assetIds": []any{"A1"}}},
			check: func(t *testing.T, in any) {
				if got := in.(valuation.Input); got.Quarter != "Q2" || got.Year != 2026 || len(got.AssetIDs) != 1 {
					t.Errorf("input = %+v", got)
				}
			},
		},
		{
			name: "stress test",
			typ:  api.StressTest,
			payload: map[string]any{"scenarios": []any{
				map[string]any{"name": "fx", "parameters": map[string]any{"usd": -0.1}, "assetIds": []any{"A1"}},
			}},
			check: func(t *testing.T, in any) {
				got := in.(stresstest.Input)
				if len(got.Scenarios) != 1 || got.Scenarios[0].Parameters["usd"] != -0.1 {
					t.Errorf("input = %+v", got)
				}
			},
		},
		{
			name:    "kyc",
			typ:     api.KYC,
			payload: map[string]any{"investorId": "inv-1", "documents": []any{map[string]any{"type": "passport", "url": "s3://p"}}},
			check: func(t *testing.T, in any) {
				if got := in.(kyc.Input); got.InvestorID != "inv-1" || got.Documents[0].URL != "s3://p" {
					t.Errorf("input = %+v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Trigger(ctx, tt.typ, tt.payload); err != nil {
				t.Fatalf("Trigger: %v", err)
			}
			last := exec.starts[len(exec.starts)-1]
			if last.sagaType != tt.typ {
				t.Fatalf("started %s", last.sagaType)
			}
			tt.check(t, last.input)
		})
	}

	if _, err := s.Trigger(ctx, api.SagaType("Payroll"), nil); !errors.Is(err, saga.ErrUnknownSagaType) {
		t.Errorf("unknown type error = %v", err)
	}
	if _, err := s.Trigger(ctx, api.AssetUnwind, map[string]any{"assetId": 7}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("malformed payload error = %v", err)
	}
}

func TestScheduler_Signal(t *testing.T) {
	s, exec := newScheduler()
	if err := s.SignalWorkflow(context.Background(), "kyc-inv-1-1", kyc.SignalAddTags, "vip"); err != nil {
		t.Fatalf("SignalWorkflow: %v", err)
	}
	if len(exec.signals) != 1 || exec.signals[0] != "kyc-inv-1-1/addTags" {
		t.Errorf("signals = %v", exec.signals)
	}

	var unknown *saga.UnknownSignalError
	if err := s.SignalWorkflow(context.Background(), "kyc-inv-1-1", "unknown"); !errors.As(err, &unknown) {
		t.Errorf("error = %v", err)
	}
}

// TestScheduler_EndToEnd runs the asset unwind saga on the real engine.
func TestScheduler_EndToEnd(t *testing.T) {
	conv := &serde.JsonSerde{}
	release := make(chan struct{})
	reg := activity.NewRegistry()
	reg.MustRegister(
		activity.New(assetunwind.RequestBids, "v1", conv, func(ctx context.Context, in assetunwind.AssetRef) ([]assetunwind.Bid, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []assetunwind.Bid{{Bidder: "fund-a", Amount: 500}, {Bidder: "fund-b", Amount: 700}}, nil
		}),
		activity.New(assetunwind.ComputeHaircut, "v1", conv, func(context.Context, assetunwind.HaircutRequest) (float64, error) {
			return 2, nil
		}),
		activity.New(assetunwind.SettleTransaction, "v1", conv, func(_ context.Context, in assetunwind.SettleRequest) (assetunwind.Settlement, error) {
			return assetunwind.Settlement{TxID: "tx-" + in.Bidder}, nil
		}),
		activity.New(assetunwind.UpdateNAV, "v1", conv, func(context.Context, assetunwind.NAVUpdate) (struct{}, error) {
			return struct{}{}, nil
		}),
		activity.New(assetunwind.SaveToMemory, "v1", conv, func(context.Context, assetunwind.MemoryRecord) (struct{}, error) {
			return struct{}{}, nil
		}),
	)
	eng, err := executor.New(store.NewMemory(), reg, conv, []saga.Definition{assetunwind.Definition{}})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	t.Cleanup(eng.Close)
	s := New(eng, conv)
	ctx := context.Background()

	// The trigger returns while the first step is still blocked.
	id, err := s.TriggerAssetUnwind(ctx, "A1", "liquidity")
	if err != nil {
		t.Fatalf("TriggerAssetUnwind: %v", err)
	}
	if view, err := s.GetWorkflowStatus(ctx, id); err != nil || view.Status != api.StatusRunning {
		t.Fatalf("status = %+v, %v", view, err)
	}
	if _, err := s.TriggerAssetUnwind(ctx, "A1", "again"); !saga.IsDuplicate(err) {
		t.Fatalf("duplicate trigger error = %v", err)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	var view api.StatusView
	for time.Now().Before(deadline) {
		if view, err = s.GetWorkflowStatus(ctx, id); err != nil {
			t.Fatal(err)
		}
		if view.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if view.Status != api.StatusCompleted {
		t.Fatalf("status = %s (%s)", view.Status, view.Error)
	}
	result, ok := view.Result.(map[string]any)
	if !ok || result["bidder"] != "fund-b" || result["txId"] != "tx-fund-b" {
		t.Errorf("result = %#v", view.Result)
	}
}
