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

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const storeRetryDelay = time.Second

// tracked is the in-process state of a saga owned by this engine.
type tracked struct {
	mu    sync.Mutex
	owned map[int]struct{}

	wake       chan struct{}
	cancelled  chan struct{}
	cancelOnce sync.Once
}

func newTracked() *tracked {
	return &tracked{
		owned:     make(map[int]struct{}),
		wake:      make(chan struct{}, 1),
		cancelled: make(chan struct{}),
	}
}

// claim marks a step as being executed. It fails when another goroutine
// already owns the step.
func (t *tracked) claim(step int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owned[step]; ok {
		return false
	}
	t.owned[step] = struct{}{}
	return true
}

func (t *tracked) release(step int) {
	t.mu.Lock()
	delete(t.owned, step)
	t.mu.Unlock()
	t.notify()
}

func (t *tracked) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *tracked) cancel() {
	t.cancelOnce.Do(func() { close(t.cancelled) })
}

func (e *Engine) launch(sagaID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.sagas[sagaID]; ok {
		e.mu.Unlock()
		return
	}
	t := newTracked()
	e.sagas[sagaID] = t
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(sagaID, t)
}

func (e *Engine) lookup(sagaID string) *tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sagas[sagaID]
}

func (e *Engine) forget(sagaID string) {
	e.mu.Lock()
	delete(e.sagas, sagaID)
	e.mu.Unlock()
}

// run drives one saga until it is terminal or the engine stops.
func (e *Engine) run(sagaID string, t *tracked) {
	defer e.wg.Done()
	defer e.forget(sagaID)

	ctx := e.base
	log := e.log.With("saga_id", sagaID)

	for ctx.Err() == nil {
		done, err := e.round(ctx, sagaID, t)
		switch {
		case err == nil:
			if done {
				return
			}
		case errors.Is(err, store.ErrConflict):
			// Recompute the decision from the newer revision.
		case errors.Is(err, store.ErrNotFound):
			log.Error("saga disappeared from store")
			return
		default:
			if ctx.Err() != nil {
				return
			}
			log.Error("saga round failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(storeRetryDelay):
			}
		}
	}
}

// round loads the saga, asks its definition for the next decision and
// carries it out. Every decision is committed against the revision it was
// computed from, so a signal recorded in between forces a recompute.
func (e *Engine) round(ctx context.Context, sagaID string, t *tracked) (done bool, err error) {
	inst, err := e.store.Get(ctx, sagaID)
	if err != nil {
		return false, err
	}
	if inst.Status.Terminal() {
		return true, nil
	}
	def, ok := e.defs[inst.Type]
	if !ok {
		return false, fmt.Errorf("%w: %s", saga.ErrUnknownSagaType, inst.Type)
	}

	if cancelRequested(inst) {
		return true, e.finish(ctx, inst, saga.Decision{}, true)
	}

	dec := e.decide(def, inst)
	if dec.Terminal() {
		return true, e.finish(ctx, inst, dec, false)
	}

	var (
		tasks   []*stepTask
		claimed []int
		failed  []int
	)
	for i, call := range dec.Calls {
		step := dec.Step + i
		if _, settled := inst.Outcome(step); settled {
			continue
		}
		if !t.claim(step) {
			continue
		}
		claimed = append(claimed, step)

		task, failure := e.begin(inst, def, step, call)
		if task == nil {
			e.log.Warn("step failed before dispatch", "saga_id", sagaID, "step", step, "activity", call.Name, "error", failure)
			failed = append(failed, step)
			continue
		}
		tasks = append(tasks, task)
	}

	if len(claimed) == 0 {
		// Every pending step is owned by a RunStep caller.
		select {
		case <-ctx.Done():
		case <-t.wake:
		case <-t.cancelled:
		}
		return false, nil
	}

	inst.UpdatedAt = e.now()
	if err := e.store.Save(ctx, inst); err != nil {
		for _, step := range claimed {
			t.release(step)
		}
		return false, err
	}

	for _, step := range failed {
		o, _ := inst.Outcome(step)
		e.publish(sagaID, &api.StepFailed{
			ID: sagaID, Step: step, Activity: o.Activity,
			Outcome: api.OutcomeFatalFailure, Error: o.Error, At: e.now(),
		})
		t.release(step)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.fanout)
	for _, task := range tasks {
		e.publishStarted(sagaID, task, task.attempt)
		g.Go(func() error {
			defer t.release(task.step)
			_, _ = e.execute(ctx, sagaID, t, task)
			return nil
		})
	}
	_ = g.Wait()
	return false, nil
}

// decide runs the definition. A panicking definition fails the saga.
func (e *Engine) decide(def saga.Definition, inst *api.SagaInstance) (dec saga.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("saga definition panicked", "saga_id", inst.ID, "panic", r)
			dec = saga.Fail(fmt.Errorf("saga definition panicked: %v", r))
		}
	}()
	return def.Next(saga.NewState(inst, e.conv))
}

// finish moves the saga to its terminal state.
func (e *Engine) finish(ctx context.Context, inst *api.SagaInstance, dec saga.Decision, cancelled bool) error {
	now := e.now()
	switch {
	case cancelled:
		inst.Status = api.StatusCancelled
	case dec.Failed():
		inst.Status = api.StatusFailed
		inst.Error = dec.Failure
	default:
		result, err := e.conv.SerializeBinary(dec.Result)
		if err != nil {
			inst.Status = api.StatusFailed
			inst.Error = fmt.Sprintf("encode result: %v", err)
			break
		}
		inst.Status = api.StatusCompleted
		inst.Result = result
	}
	inst.UpdatedAt = now

	if err := e.store.Save(ctx, inst); err != nil {
		return err
	}

	log := e.log.With("saga_id", inst.ID, "type", inst.Type, "steps", inst.DispatchedSteps())
	switch inst.Status {
	case api.StatusCompleted:
		log.Info("saga completed")
		e.publish(inst.ID, &api.SagaCompleted{ID: inst.ID, Type: inst.Type, Result: inst.Result, At: now})
	case api.StatusFailed:
		log.Warn("saga failed", "error", inst.Error)
		e.publish(inst.ID, &api.SagaFailed{ID: inst.ID, Type: inst.Type, Error: inst.Error, At: now})
	case api.StatusCancelled:
		log.Info("saga cancelled")
		e.publish(inst.ID, &api.SagaCancelled{ID: inst.ID, Type: inst.Type, At: now})
	}
	return nil
}

func cancelRequested(inst *api.SagaInstance) bool {
	for _, sig := range inst.Signals {
		if sig.Name == saga.SignalCancel {
			return true
		}
	}
	return false
}
