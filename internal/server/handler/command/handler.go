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

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

// Scheduler is the part of the scheduler facade commands drive.
type Scheduler interface {
	Trigger(ctx context.Context, sagaType api.SagaType, payload map[string]any) (string, error)
	GetWorkflowStatus(ctx context.Context, sagaID string) (api.StatusView, error)
	SignalWorkflow(ctx context.Context, sagaID, name string, args ...any) error
}

type Handler struct {
	conv  serde.BinarySerde
	sched Scheduler
	log   *slog.Logger
}

func NewHandler(sched Scheduler, conv serde.BinarySerde, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{conv: conv, sched: sched, log: log.With("component", "command")}
}

// HandleRequest answers a command received on a request subject.
func (h *Handler) HandleRequest(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in command handler", "subject", msg.Subject, "error", r)
			h.respond(msg, api.ErrorReply{Error: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	reply := h.Handle(context.Background(), msg.Data)
	if err := msg.Respond(reply); err != nil {
		h.log.Error("failed to send reply", "subject", msg.Subject, "reply", msg.Reply, "error", err)
	}
}

// Handle decodes one command and returns the encoded reply.
func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	var cmd api.Command
	if err := h.conv.DeserializeBinary(data, &cmd); err != nil {
		h.log.Warn("malformed command", "error", err)
		return h.encode(api.ErrorReply{Error: "malformed command: " + err.Error()})
	}
	log := h.log.With("command", cmd.CommandType)

	switch cmd.CommandType {
	case api.StartSagaCommand:
		var attrs api.StartSagaAttributes
		if err := h.conv.DeserializeBinary(cmd.Attributes, &attrs); err != nil {
			return h.encode(api.StartSagaReply{Error: "failed to parse request attributes: " + err.Error()})
		}
		id, err := h.sched.Trigger(ctx, attrs.SagaType, attrs.Payload)
		if err != nil {
			if dup, ok := asDuplicate(err); ok {
				log.Debug("saga already running", "saga_id", dup.ActiveID)
				return h.encode(api.StartSagaReply{SagaID: dup.ActiveID, Duplicate: true})
			}
			log.Warn("start failed", "saga_type", attrs.SagaType, "error", err)
			return h.encode(api.StartSagaReply{Error: err.Error()})
		}
		return h.encode(api.StartSagaReply{SagaID: id})

	case api.SagaStatusCommand:
		var attrs api.SagaStatusAttributes
		if err := h.conv.DeserializeBinary(cmd.Attributes, &attrs); err != nil {
			return h.encode(api.SagaStatusReply{Error: "failed to parse request attributes: " + err.Error()})
		}
		view, err := h.sched.GetWorkflowStatus(ctx, attrs.SagaID)
		if err != nil {
			return h.encode(api.SagaStatusReply{Error: err.Error()})
		}
		return h.encode(api.SagaStatusReply{Status: &view})

	case api.SignalSagaCommand:
		var attrs api.SignalSagaAttributes
		if err := h.conv.DeserializeBinary(cmd.Attributes, &attrs); err != nil {
			return h.encode(api.SignalSagaReply{Error: "failed to parse request attributes: " + err.Error()})
		}
		if err := h.sched.SignalWorkflow(ctx, attrs.SagaID, attrs.Signal, attrs.Args...); err != nil {
			return h.encode(api.SignalSagaReply{Error: err.Error()})
		}
		return h.encode(api.SignalSagaReply{})

	default:
		log.Warn("unknown command type")
		return h.encode(api.ErrorReply{Error: fmt.Sprintf("unknown command type %q", cmd.CommandType)})
	}
}

func (h *Handler) encode(reply any) []byte {
	data, err := h.conv.SerializeBinary(reply)
	if err != nil {
		h.log.Error("failed to encode reply", "error", err)
		data, _ = h.conv.SerializeBinary(api.ErrorReply{Error: "failed to serialize reply"})
	}
	return data
}

func (h *Handler) respond(msg *nats.Msg, reply any) {
	if err := msg.Respond(h.encode(reply)); err != nil {
		h.log.Error("failed to send reply", "error", err)
	}
}

func asDuplicate(err error) (*saga.DuplicateSagaError, bool) {
	var dup *saga.DuplicateSagaError
	ok := errors.As(err, &dup)
	return dup, ok
}

// RunProcessor serves commands until ctx is done. Handlers share a queue
// group so commands are spread over every orchestrator instance.
func RunProcessor(ctx context.Context, conn *jetstreamx.Connection, handler *Handler) error {
	sub, err := conn.QueueSubscribe(
		api.CommandRequestSubjectPattern,
		api.ManagerCommandProcessorsConsumer,
		handler.HandleRequest,
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
