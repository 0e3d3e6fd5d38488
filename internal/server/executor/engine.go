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

// Package executor is the durable saga engine. It persists every decision
// and attempt through a store.Store before acting on it, so a restarted
// process resumes each running saga at the step it was on.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/history"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	tracerName    = "github.com/DealExMachina/evergreen-dragon-os/internal/server/executor"
	defaultFanout = 16

	interruptedAttempt = "attempt interrupted before completion"
)

var _ saga.Executor = (*Engine)(nil)

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithPublisher(p history.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithPolicy replaces a saga type's default retry policy.
func WithPolicy(t api.SagaType, p retry.Policy) Option {
	return func(e *Engine) { e.policies[t] = p }
}

// WithFanout bounds how many steps of one saga run at the same time.
func WithFanout(n int) Option {
	return func(e *Engine) { e.fanout = n }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	store  store.Store
	acts   *activity.Registry
	conv   serde.BinarySerde
	defs   map[api.SagaType]saga.Definition
	pub    history.Publisher
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	fanout int

	policies map[api.SagaType]retry.Policy

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	sagas  map[string]*tracked

	lastMillis atomic.Int64
}

// New validates the definitions against the registry and returns an idle
// engine. Call Resume or Run to pick up sagas left running by a previous
// process.
func New(st store.Store, acts *activity.Registry, conv serde.BinarySerde, defs []saga.Definition, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    st,
		acts:     acts,
		conv:     conv,
		defs:     make(map[api.SagaType]saga.Definition, len(defs)),
		pub:      history.Nop{},
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		fanout:   defaultFanout,
		policies: make(map[api.SagaType]retry.Policy),
		sagas:    make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "executor")

	for _, def := range defs {
		t := def.Type()
		if _, ok := e.defs[t]; ok {
			return nil, saga.Configf("sagas", "saga type %s defined twice", t)
		}
		for _, name := range def.Activities() {
			if !acts.Has(name) {
				return nil, saga.Configf("activities", "saga %s uses unbound activity %q", t, name)
			}
		}
		if err := def.Policy().Validate(); err != nil {
			return nil, &saga.ConfigurationError{Field: "policies." + string(t), Cause: err}
		}
		e.defs[t] = def
	}
	for t, p := range e.policies {
		if _, ok := e.defs[t]; !ok {
			return nil, saga.Configf("policies", "policy for unknown saga type %s", t)
		}
		if err := p.Validate(); err != nil {
			return nil, &saga.ConfigurationError{Field: "policies." + string(t), Cause: err}
		}
	}
	if e.fanout < 1 {
		e.fanout = 1
	}

	e.base, e.stop = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) Start(ctx context.Context, sagaType api.SagaType, businessKey string, input any) (string, error) {
	if _, ok := e.defs[sagaType]; !ok {
		return "", fmt.Errorf("%w: %s", saga.ErrUnknownSagaType, sagaType)
	}

	data, err := e.conv.SerializeBinary(input)
	if err != nil {
		return "", fmt.Errorf("encode %s input: %w", sagaType, err)
	}

	now := e.now()
	inst := &api.SagaInstance{
		ID:          fmt.Sprintf("%s-%s-%d", sagaType.Slug(), sanitizeKey(businessKey), e.nextMillis(now)),
		Type:        sagaType,
		BusinessKey: businessKey,
		Status:      api.StatusRunning,
		Input:       data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Create(ctx, inst); err != nil {
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			return "", &saga.DuplicateSagaError{Type: sagaType, BusinessKey: businessKey, ActiveID: dup.ActiveID}
		}
		return "", fmt.Errorf("create saga: %w", err)
	}

	e.log.Info("saga started", "saga_id", inst.ID, "type", sagaType, "key", api.ActiveKey(sagaType, businessKey))
	e.publish(inst.ID, &api.SagaStarted{ID: inst.ID, Type: sagaType, BusinessKey: businessKey, At: now})
	e.launch(inst.ID)
	return inst.ID, nil
}

func (e *Engine) Signal(ctx context.Context, sagaID, name string, args ...any) error {
	inst, err := e.store.Get(ctx, sagaID)
	if err != nil {
		return err
	}

	def, ok := e.defs[inst.Type]
	if !ok {
		return fmt.Errorf("%w: %s", saga.ErrUnknownSagaType, inst.Type)
	}
	handler, declared := def.Signals()[name]
	if name != saga.SignalCancel && !declared {
		return &saga.UnknownSignalError{SagaID: sagaID, Signal: name}
	}
	if inst.Status.Terminal() {
		return &saga.SagaNotRunningError{SagaID: sagaID, Status: inst.Status}
	}
	if handler != nil {
		if err := handler(args); err != nil {
			return fmt.Errorf("%w %s: %w", saga.ErrInvalidSignal, name, err)
		}
	}

	var data []byte
	if len(args) > 0 {
		if data, err = e.conv.SerializeBinary(args); err != nil {
			return fmt.Errorf("encode signal %s: %w", name, err)
		}
	}

	now := e.now()
	_, err = e.mutate(ctx, sagaID, func(inst *api.SagaInstance) error {
		if inst.Status.Terminal() {
			return &saga.SagaNotRunningError{SagaID: sagaID, Status: inst.Status}
		}
		inst.Signals = append(inst.Signals, api.SignalRecord{
			Name:       name,
			Args:       data,
			AtStep:     inst.DispatchedSteps(),
			ReceivedAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("saga signaled", "saga_id", sagaID, "signal", name)
	e.publish(sagaID, &api.SagaSignaled{ID: sagaID, Signal: name, At: now})
	if t := e.lookup(sagaID); t != nil {
		if name == saga.SignalCancel {
			t.cancel()
		}
		t.notify()
	}
	return nil
}

func (e *Engine) Status(ctx context.Context, sagaID string) (api.StatusView, error) {
	inst, err := e.store.Get(ctx, sagaID)
	if err != nil {
		return api.StatusView{}, err
	}

	view := api.StatusView{
		SagaID:      inst.ID,
		Type:        inst.Type,
		Status:      inst.Status,
		CurrentStep: inst.CurrentStep,
		Error:       inst.Error,
		History:     inst.History,
	}
	if len(inst.Result) > 0 {
		var result any
		if err := e.conv.DeserializeBinary(inst.Result, &result); err != nil {
			return api.StatusView{}, fmt.Errorf("decode result of %s: %w", sagaID, err)
		}
		view.Result = result
	}
	return view, nil
}

// Resume finalizes attempts interrupted by a previous shutdown and starts
// a runner for every Running saga.
func (e *Engine) Resume(ctx context.Context) error {
	running, err := e.store.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running sagas: %w", err)
	}

	for _, inst := range running {
		if _, ok := e.defs[inst.Type]; !ok {
			e.log.Error("no definition for running saga", "saga_id", inst.ID, "type", inst.Type)
			continue
		}
		// Open records of a saga this engine is driving belong to live attempts.
		if e.lookup(inst.ID) != nil {
			continue
		}
		if len(inst.OpenRecords()) > 0 {
			now := e.now()
			_, err := e.mutate(ctx, inst.ID, func(inst *api.SagaInstance) error {
				open := inst.OpenRecords()
				if len(open) == 0 || e.lookup(inst.ID) != nil {
					return errUnchanged
				}
				for _, i := range open {
					rec := &inst.History[i]
					rec.EndedAt = &now
					rec.Outcome = api.OutcomeRetryableFailure
					rec.Error = interruptedAttempt
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("finalize interrupted attempts of %s: %w", inst.ID, err)
			}
			e.log.Warn("finalized interrupted attempts", "saga_id", inst.ID)
		}
		e.launch(inst.ID)
	}

	e.log.Info("resumed running sagas", "count", len(running))
	return nil
}

// Run resumes running sagas and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Resume(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Close()
	return nil
}

// Close stops every runner and waits for them to return. Attempts still
// in flight are left open and picked up by the next Resume.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
}

var errUnchanged = errors.New("unchanged")

// mutate applies fn to the latest stored instance and saves it, retrying
// on revision conflicts. fn returning errUnchanged skips the write.
func (e *Engine) mutate(ctx context.Context, sagaID string, fn func(*api.SagaInstance) error) (*api.SagaInstance, error) {
	for {
		inst, err := e.store.Get(ctx, sagaID)
		if err != nil {
			return nil, err
		}
		if err := fn(inst); err != nil {
			if errors.Is(err, errUnchanged) {
				return inst, nil
			}
			return nil, err
		}
		inst.UpdatedAt = e.now()

		err = e.store.Save(ctx, inst)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) publish(sagaID string, event api.SagaEvent) {
	if err := e.pub.Publish(e.base, sagaID, event); err != nil {
		e.log.Warn("publish history event", "saga_id", sagaID, "event", event.EventName(), "error", err)
	}
}

// policyFor resolves the retry policy of a call.
func (e *Engine) policyFor(def saga.Definition, call activity.Call) retry.Policy {
	if call.Retry != nil {
		return *call.Retry
	}
	if p, ok := e.policies[def.Type()]; ok {
		return p
	}
	return def.Policy()
}

func (e *Engine) timeoutFor(def saga.Definition, call activity.Call) time.Duration {
	if call.Timeout > 0 {
		return call.Timeout
	}
	return def.Timeout()
}

// nextMillis returns a unix millisecond stamp strictly greater than any
// previously issued one, so IDs stay unique within a process.
func (e *Engine) nextMillis(now time.Time) int64 {
	for {
		last := e.lastMillis.Load()
		ms := now.UnixMilli()
		if ms <= last {
			ms = last + 1
		}
		if e.lastMillis.CompareAndSwap(last, ms) {
			return ms
		}
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeKey(key string) string {
	if key == "" {
		return "_"
	}
	return unsafeKeyChars.ReplaceAllString(key, "_")
}
