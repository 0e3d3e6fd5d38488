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

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

// DefaultQueue is the queue group workers join when Options.Queue is empty.
const DefaultQueue = "activity-workers"

// Conn is the subscribing half of a NATS connection. *nats.Conn satisfies it.
type Conn interface {
	QueueSubscribe(subj, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// Options contains configuration for creating a new Worker.
type Options struct {
	Queue  string
	Logger *slog.Logger
}

type Worker struct {
	conn  Conn
	conv  serde.BinarySerde
	queue string
	reg   *activity.Registry
	log   *slog.Logger

	mu      sync.Mutex
	started bool
}

func NewWorker(conn Conn, conv serde.BinarySerde, opts *Options) (*Worker, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	if opts == nil {
		opts = &Options{}
	}
	w := &Worker{
		conn:  conn,
		conv:  conv,
		queue: opts.Queue,
		reg:   activity.NewRegistry(),
		log:   opts.Logger,
	}
	if w.queue == "" {
		w.queue = DefaultQueue
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	w.log = w.log.With("component", "worker")
	return w, nil
}

// Register adds activities. It must be called before Run.
func (w *Worker) Register(acts ...activity.Activity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrWorkerStarted
	}
	for _, act := range acts {
		if act == nil {
			return &RegistrationError{Cause: errors.New("nil activity")}
		}
		if err := w.reg.Register(act); err != nil {
			return &RegistrationError{ActivityName: act.Name(), Cause: err}
		}
	}
	return nil
}

// Subject is the subject the activity name is served on.
func Subject(name string) string {
	return fmt.Sprintf(api.ActivityInvokeSubjectPattern, name)
}

// Run serves every registered activity until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.started = true
	names := w.reg.Names()
	w.mu.Unlock()

	if len(names) == 0 {
		return errors.New("worker has no registered activities")
	}

	subs := make([]*nats.Subscription, 0, len(names))
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, name := range names {
		sub, err := w.conn.QueueSubscribe(Subject(name), w.queue, func(msg *nats.Msg) {
			if err := msg.Respond(w.Handle(ctx, msg.Data)); err != nil {
				w.log.Error("failed to send reply", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("serve activity %s: %w", name, err)
		}
		subs = append(subs, sub)
	}

	w.log.Info("worker is running", "activities", names, "queue", w.queue)
	<-ctx.Done()
	w.log.Info("worker stopped")
	return nil
}

// Handle runs one encoded request and returns the encoded reply.
func (w *Worker) Handle(ctx context.Context, data []byte) []byte {
	var req api.ActivityRequest
	if err := w.conv.DeserializeBinary(data, &req); err != nil {
		return w.encode(api.ActivityReply{Error: "malformed activity request: " + err.Error(), Fatal: true})
	}
	log := w.log.With("activity", req.Activity, "saga_id", req.SagaID, "step", req.Step, "attempt", req.Attempt)

	act, err := w.reg.Get(req.Activity)
	if err != nil {
		log.Warn("request for unregistered activity")
		return w.encode(api.ActivityReply{Error: err.Error(), Fatal: true})
	}

	ctx = activity.WithInfo(ctx, activity.Info{SagaID: req.SagaID, Step: req.Step, Attempt: req.Attempt})
	out, err := w.execute(ctx, act, req.Input)
	if err != nil {
		fatal := activity.IsFatal(err)
		log.Warn("activity failed", "error", err, "fatal", fatal)
		return w.encode(api.ActivityReply{Error: err.Error(), Fatal: fatal})
	}
	log.Debug("activity completed")
	return w.encode(api.ActivityReply{Output: out})
}

func (w *Worker) execute(ctx context.Context, act activity.Activity, input []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &activity.PanicError{Activity: act.Name(), Value: r}
		}
	}()
	return act.Execute(ctx, input)
}

func (w *Worker) encode(reply api.ActivityReply) []byte {
	data, err := w.conv.SerializeBinary(reply)
	if err != nil {
		w.log.Error("failed to encode reply", "error", err)
		data, _ = w.conv.SerializeBinary(api.ActivityReply{Error: "failed to serialize reply"})
	}
	return data
}
