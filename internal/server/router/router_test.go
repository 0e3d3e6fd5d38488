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

package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/agent"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

// fakeTrigger collapses starts with the same business key the way the
// executor does.
type fakeTrigger struct {
	mu      sync.Mutex
	running map[string]string
	calls   int
	err     error
}

func (f *fakeTrigger) Trigger(_ context.Context, sagaType api.SagaType, payload map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	key := fmt.Sprint(payload["assetId"])
	if id, ok := f.running[key]; ok {
		return "", &saga.DuplicateSagaError{Type: sagaType, BusinessKey: key, ActiveID: id}
	}
	if f.running == nil {
		f.running = map[string]string{}
	}
	id := fmt.Sprintf("%s-%s", sagaType.Slug(), key)
	f.running[key] = id
	return id, nil
}

type fakeAgents struct {
	mu       sync.Mutex
	requests map[string][]agent.Request
	err      error
}

func (f *fakeAgents) Invoke(_ context.Context, name string, req agent.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.requests == nil {
		f.requests = map[string][]agent.Request{}
	}
	f.requests[name] = append(f.requests[name], req)
	return nil
}

func newRouter(t *testing.T, trig Trigger, agents agent.Invoker, opts ...Option) *Router {
	t.Helper()
	r, err := New(DefaultTable(), trig, agents, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRoute_Saga(t *testing.T) {
	trig := &fakeTrigger{}
	r := newRouter(t, trig, &fakeAgents{})

	if err := r.Route(context.Background(), "UNWIND_ASSET", map[string]any{"assetId": "A1"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if trig.calls != 1 || trig.running["A1"] != "asset-unwind-A1" {
		t.Errorf("trigger state = %+v", trig)
	}
}

func TestRoute_RedeliveryIsIdempotent(t *testing.T) {
	trig := &fakeTrigger{}
	r := newRouter(t, trig, &fakeAgents{})
	payload := map[string]any{"assetId": "A1"}

	for i := range 3 {
		if err := r.Route(context.Background(), "UNWIND_ASSET", payload); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if trig.calls != 3 {
		t.Errorf("trigger calls = %d, want 3", trig.calls)
	}
	if len(trig.running) != 1 {
		t.Errorf("running sagas = %v, want exactly one", trig.running)
	}
}

func TestRoute_DedupeWindow(t *testing.T) {
	trig := &fakeTrigger{}
	r := newRouter(t, trig, &fakeAgents{}, WithDedupeWindow(2))
	ctx := context.Background()

	route := func(id, asset string) {
		t.Helper()
		if err := r.RouteEvent(ctx, Event{ID: id, Type: "UNWIND_ASSET", Payload: map[string]any{"assetId": asset}}); err != nil {
			t.Fatalf("RouteEvent(%s): %v", id, err)
		}
	}

	route("e1", "A1")
	route("e1", "A1")
	if trig.calls != 1 {
		t.Fatalf("re-delivery reached the trigger: %d calls", trig.calls)
	}

	route("e2", "A2")
	route("e3", "A3")
	// e1 fell out of the window and reaches the trigger again, where the
	// business key still collapses it.
	route("e1", "A1")
	if trig.calls != 4 {
		t.Errorf("trigger calls = %d, want 4", trig.calls)
	}
	if len(trig.running) != 3 {
		t.Errorf("running = %v", trig.running)
	}
}

func TestRoute_FailedDeliveryIsRetried(t *testing.T) {
	trig := &fakeTrigger{err: errors.New("store unavailable")}
	r := newRouter(t, trig, &fakeAgents{})
	ev := Event{ID: "e1", Type: "UNWIND_ASSET", Payload: map[string]any{"assetId": "A1"}}

	if err := r.RouteEvent(context.Background(), ev); err == nil {
		t.Fatal("expected error")
	}
	trig.err = nil
	if err := r.RouteEvent(context.Background(), ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if trig.calls != 2 || trig.running["A1"] == "" {
		t.Errorf("trigger state = %+v", trig)
	}
}

func TestRoute_Agent(t *testing.T) {
	agents := &fakeAgents{}
	r := newRouter(t, &fakeTrigger{}, agents)

	payload := map[string]any{"severity": "high"}
	if err := r.RouteEvent(context.Background(), Event{ID: "e9", Type: "MARKET_SHOCK", Payload: payload}); err != nil {
		t.Fatalf("RouteEvent: %v", err)
	}
	reqs := agents.requests["commander"]
	if len(reqs) != 1 || reqs[0].EventID != "e9" || reqs[0].EventType != "MARKET_SHOCK" || reqs[0].Payload["severity"] != "high" {
		t.Errorf("requests = %+v", agents.requests)
	}

	agents.err = errors.New("broker down")
	if err := r.Route(context.Background(), "RISK_ALERT", nil); err == nil {
		t.Error("agent failure swallowed")
	}
}

func TestRoute_UnmappedIsDropped(t *testing.T) {
	trig := &fakeTrigger{}
	agents := &fakeAgents{}
	r := newRouter(t, trig, agents)

	if err := r.Route(context.Background(), "SOMETHING_NEW", map[string]any{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if trig.calls != 0 || len(agents.requests) != 0 {
		t.Error("unmapped event reached a handler")
	}
}

func TestNew_MissingHandlers(t *testing.T) {
	var cfgErr *saga.ConfigurationError
	if _, err := New(DefaultTable(), nil, &fakeAgents{}); !errors.As(err, &cfgErr) {
		t.Errorf("missing trigger: %v", err)
	}
	if _, err := New(DefaultTable(), &fakeTrigger{}, nil); !errors.As(err, &cfgErr) {
		t.Errorf("missing agents: %v", err)
	}
	if _, err := New(nil, &fakeTrigger{}, &fakeAgents{}); !errors.As(err, &cfgErr) {
		t.Errorf("missing table: %v", err)
	}
}
