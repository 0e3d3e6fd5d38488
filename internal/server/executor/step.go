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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

// ErrInterrupted is returned by RunStep when the saga was cancelled or the
// engine stopped while the step was waiting to retry or running.
var ErrInterrupted = errors.New("step interrupted")

type stepTask struct {
	step    int
	call    activity.Call
	act     activity.Activity
	input   []byte
	digest  string
	attempt int
	policy  retry.Policy
	timeout time.Duration
}

// begin prepares the next attempt of step and appends its record to inst.
// When the step cannot be dispatched at all it is settled on inst instead
// and begin returns a nil task with the failure message.
func (e *Engine) begin(inst *api.SagaInstance, def saga.Definition, step int, call activity.Call) (*stepTask, string) {
	now := e.now()
	if step > inst.CurrentStep {
		inst.CurrentStep = step
	}

	fail := func(msg string, record bool) (*stepTask, string) {
		if record {
			inst.History = append(inst.History, api.StepRecord{
				Step:      step,
				Activity:  call.Name,
				Attempt:   inst.Attempts(step) + 1,
				StartedAt: now,
				EndedAt:   &now,
				Outcome:   api.OutcomeFatalFailure,
				Error:     msg,
			})
		}
		inst.Outcomes = append(inst.Outcomes, api.StepOutcome{Step: step, Activity: call.Name, Error: msg})
		return nil, msg
	}

	act, err := e.acts.Get(call.Name)
	if err != nil {
		return fail(err.Error(), true)
	}
	input, err := e.conv.SerializeBinary(call.Input)
	if err != nil {
		return fail(fmt.Sprintf("encode %s input: %v", call.Name, err), true)
	}

	policy := e.policyFor(def, call)
	attempt := inst.Attempts(step) + 1
	if attempt > policy.MaxAttempts {
		return fail(lastError(inst, step), false)
	}

	task := &stepTask{
		step:    step,
		call:    call,
		act:     act,
		input:   input,
		digest:  serde.Digest(input),
		attempt: attempt,
		policy:  policy,
		timeout: e.timeoutFor(def, call),
	}
	inst.History = append(inst.History, task.record(attempt, now))
	return task, ""
}

func (t *stepTask) record(attempt int, now time.Time) api.StepRecord {
	return api.StepRecord{
		Step:          t.step,
		Activity:      t.call.Name,
		Version:       t.act.Version(),
		Attempt:       attempt,
		StartedAt:     now,
		PayloadDigest: t.digest,
	}
}

// execute runs the attempts of a step whose first attempt is already on
// record, until the step settles or is interrupted.
func (e *Engine) execute(ctx context.Context, sagaID string, t *tracked, task *stepTask) ([]byte, error) {
	log := e.log.With("saga_id", sagaID, "step", task.step, "activity", task.call.Name)

	for attempt := task.attempt; ; attempt++ {
		if attempt > task.attempt {
			if err := e.openAttempt(ctx, sagaID, task, attempt); err != nil {
				return nil, err
			}
			e.publishStarted(sagaID, task, attempt)
		}

		out, runErr := e.dispatch(ctx, sagaID, task, attempt)
		if ctx.Err() != nil {
			// The attempt stays open and is finalized by the next Resume.
			return nil, ErrInterrupted
		}

		if runErr == nil {
			if err := e.settle(ctx, sagaID, task, attempt, api.OutcomeSuccess, "", out, true); err != nil {
				return nil, err
			}
			log.Debug("step completed", "attempt", attempt)
			e.publish(sagaID, &api.StepCompleted{
				ID: sagaID, Step: task.step, Activity: task.call.Name, Attempt: attempt, At: e.now(),
			})
			t.notify()
			return out, nil
		}

		dec := task.policy.Decide(attempt, runErr)
		outcome := classify(task.policy, runErr)
		if err := e.settle(ctx, sagaID, task, attempt, outcome, runErr.Error(), nil, !dec.Retry); err != nil {
			return nil, err
		}
		e.publish(sagaID, &api.StepFailed{
			ID: sagaID, Step: task.step, Activity: task.call.Name, Attempt: attempt,
			Outcome: outcome, Error: runErr.Error(), WillRetry: dec.Retry, At: e.now(),
		})

		if !dec.Retry {
			log.Warn("step failed", "attempt", attempt, "outcome", outcome, "error", runErr)
			t.notify()
			return nil, &saga.StepError{Step: task.step, Activity: task.call.Name, Message: runErr.Error()}
		}

		log.Info("retrying step", "attempt", attempt, "delay", dec.Delay, "error", runErr)
		if !wait(ctx, t, dec.Delay) {
			return nil, ErrInterrupted
		}
	}
}

type dispatchResult struct {
	out []byte
	err error
}

// dispatch runs one attempt under the call timeout. An activity that
// ignores its context is abandoned when the timeout fires.
func (e *Engine) dispatch(ctx context.Context, sagaID string, task *stepTask, attempt int) ([]byte, error) {
	ctx, span := e.tracer.Start(ctx, "activity "+task.call.Name,
		trace.WithAttributes(
			attribute.String("saga.id", sagaID),
			attribute.Int("saga.step", task.step),
			attribute.String("activity.name", task.call.Name),
			attribute.Int("activity.attempt", attempt),
		))
	defer span.End()

	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if task.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, task.timeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	actx = activity.WithInfo(actx, activity.Info{SagaID: sagaID, Step: task.step, Attempt: attempt})

	done := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- dispatchResult{err: &activity.PanicError{Activity: task.call.Name, Value: r}}
			}
		}()
		out, err := task.act.Execute(actx, task.input)
		done <- dispatchResult{out: out, err: err}
	}()

	var res dispatchResult
	select {
	case res = <-done:
	case <-actx.Done():
		res.err = actx.Err()
	}

	if res.err != nil && ctx.Err() == nil && errors.Is(res.err, context.DeadlineExceeded) {
		res.err = &activity.TimeoutError{Activity: task.call.Name, Timeout: task.timeout}
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return nil, res.err
	}
	return res.out, nil
}

// settle finalizes the record of an attempt and, when final, records the
// step outcome the definition will replay.
func (e *Engine) settle(ctx context.Context, sagaID string, task *stepTask, attempt int, outcome api.Outcome, errMsg string, out []byte, final bool) error {
	now := e.now()
	_, err := e.mutate(ctx, sagaID, func(inst *api.SagaInstance) error {
		if inst.Status.Terminal() {
			return errUnchanged
		}
		for i := len(inst.History) - 1; i >= 0; i-- {
			rec := &inst.History[i]
			if rec.Step == task.step && rec.Attempt == attempt {
				rec.EndedAt = &now
				rec.Outcome = outcome
				rec.Error = errMsg
				break
			}
		}
		if final {
			inst.Outcomes = append(inst.Outcomes, api.StepOutcome{
				Step:     task.step,
				Activity: task.call.Name,
				Output:   out,
				Error:    errMsg,
			})
		}
		return nil
	})
	return err
}

func (e *Engine) openAttempt(ctx context.Context, sagaID string, task *stepTask, attempt int) error {
	now := e.now()
	_, err := e.mutate(ctx, sagaID, func(inst *api.SagaInstance) error {
		if inst.Status.Terminal() {
			return &saga.SagaNotRunningError{SagaID: sagaID, Status: inst.Status}
		}
		inst.History = append(inst.History, task.record(attempt, now))
		return nil
	})
	return err
}

func (e *Engine) publishStarted(sagaID string, task *stepTask, attempt int) {
	e.publish(sagaID, &api.StepStarted{
		ID: sagaID, Step: task.step, Activity: task.call.Name,
		Attempt: attempt, Digest: task.digest, At: e.now(),
	})
}

// RunStep dispatches call on behalf of a running saga, outside the
// sequence its definition drives, and blocks until the call settles. Such
// steps are recorded under negative indexes (-1, -2, ...) so they never
// shift the positions the definition replays.
func (e *Engine) RunStep(ctx context.Context, sagaID string, call activity.Call) ([]byte, error) {
	for {
		inst, err := e.store.Get(ctx, sagaID)
		if err != nil {
			return nil, err
		}
		if inst.Status.Terminal() {
			return nil, &saga.SagaNotRunningError{SagaID: sagaID, Status: inst.Status}
		}
		def, ok := e.defs[inst.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %s", saga.ErrUnknownSagaType, inst.Type)
		}

		step := -1
		for _, rec := range inst.History {
			if rec.Step <= step {
				step = rec.Step - 1
			}
		}

		task, failure := e.begin(inst, def, step, call)
		inst.UpdatedAt = e.now()
		if err := e.store.Save(ctx, inst); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, err
		}
		if task == nil {
			return nil, &saga.StepError{Step: step, Activity: call.Name, Message: failure}
		}

		t := e.lookup(sagaID)
		if t == nil {
			t = newTracked()
		}
		e.publishStarted(sagaID, task, task.attempt)
		return e.execute(e.base, sagaID, t, task)
	}
}

func classify(p retry.Policy, err error) api.Outcome {
	retryable := !retry.IsFatal(err)
	if p.ShouldRetry != nil {
		retryable = p.ShouldRetry(err)
	}
	if retryable {
		return api.OutcomeRetryableFailure
	}
	return api.OutcomeFatalFailure
}

// lastError is the error of the most recent finished attempt of step.
func lastError(inst *api.SagaInstance, step int) string {
	for i := len(inst.History) - 1; i >= 0; i-- {
		rec := inst.History[i]
		if rec.Step == step && rec.Error != "" {
			return rec.Error
		}
	}
	return interruptedAttempt
}

// wait sleeps for d unless the engine stops or the saga is cancelled.
func wait(ctx context.Context, t *tracked, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-t.cancelled:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-t.cancelled:
		return false
	}
}
