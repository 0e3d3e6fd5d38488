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

// Package router dispatches domain events to the saga trigger or agent
// their event type is mapped to.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/agent"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const defaultDedupeWindow = 1024

// Trigger starts a saga from a loosely typed event payload.
type Trigger interface {
	Trigger(ctx context.Context, sagaType api.SagaType, payload map[string]any) (string, error)
}

type Event struct {
	// ID identifies one upstream delivery. Empty disables the dedupe window.
	ID      string
	Type    string
	Payload map[string]any
}

type Option func(*Router)

func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// WithDedupeWindow controls how many recently routed event IDs are kept.
func WithDedupeWindow(size int) Option {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

type Router struct {
	table   *Table
	trigger Trigger
	agents  agent.Invoker
	log     *slog.Logger

	mu           sync.Mutex
	recentIDs    map[string]struct{}
	recentOrder  []string
	dedupeWindow int
}

// New fails with a ConfigurationError when the table routes to a handler
// kind that has no implementation.
func New(table *Table, trigger Trigger, agents agent.Invoker, opts ...Option) (*Router, error) {
	if table == nil {
		return nil, saga.Configf("routing", "no routing table")
	}
	if trigger == nil && table.HasKind(KindSaga) {
		return nil, saga.Configf("routing", "saga routes configured without a scheduler")
	}
	if agents == nil && table.HasKind(KindAgent) {
		return nil, saga.Configf("routing", "agent routes configured without an agent invoker")
	}

	r := &Router{
		table:        table,
		trigger:      trigger,
		agents:       agents,
		log:          slog.Default(),
		recentIDs:    map[string]struct{}{},
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.log = r.log.With("component", "router")
	return r, nil
}

// Route dispatches a payload that carries no delivery ID.
func (r *Router) Route(ctx context.Context, eventType string, payload map[string]any) error {
	return r.RouteEvent(ctx, Event{Type: eventType, Payload: payload})
}

// RouteEvent invokes the handler mapped to ev.Type once. Unmapped events
// are logged and dropped. Starting a saga that is already running for the
// same business key counts as success, so re-deliveries are harmless.
func (r *Router) RouteEvent(ctx context.Context, ev Event) error {
	log := r.log.With("event_type", ev.Type)
	if ev.ID != "" {
		log = log.With("event_id", ev.ID)
		if r.seen(ev.ID) {
			log.Debug("skipping re-delivered event")
			return nil
		}
	}

	target, ok := r.table.Lookup(ev.Type)
	if !ok {
		log.Warn("no handler mapped for event type")
		return nil
	}

	switch target.Kind {
	case KindSaga:
		id, err := r.trigger.Trigger(ctx, api.SagaType(target.Name), ev.Payload)
		switch {
		case saga.IsDuplicate(err):
			log.Info("saga already running", "target", target, "error", err)
		case err != nil:
			return fmt.Errorf("route %s to %s: %w", ev.Type, target, err)
		default:
			log.Info("saga triggered", "target", target, "saga_id", id)
		}
	case KindAgent:
		req := agent.Request{EventID: ev.ID, EventType: ev.Type, Payload: ev.Payload}
		if err := r.agents.Invoke(ctx, target.Name, req); err != nil {
			return fmt.Errorf("route %s to %s: %w", ev.Type, target, err)
		}
		log.Debug("agent invoked", "target", target)
	}

	if ev.ID != "" {
		r.remember(ev.ID)
	}
	return nil
}

func (r *Router) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.recentIDs[id]
	return ok
}

// remember is called only after a successful dispatch, so a failed
// delivery is retried in full when it comes back.
func (r *Router) remember(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[id]; ok {
		return
	}
	r.recentIDs[id] = struct{}{}
	r.recentOrder = append(r.recentOrder, id)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
}
