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

// Package agent hands routed domain events to named agents. Agents run
// outside the orchestrator; this package only delivers the request.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
)

type Request struct {
	EventID   string         `json:"eventId,omitempty"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload"`
}

type Invoker interface {
	Invoke(ctx context.Context, name string, req Request) error
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, name string, req Request) error

func (f Func) Invoke(ctx context.Context, name string, req Request) error { return f(ctx, name, req) }

// NATS publishes requests to the agent's JetStream subject. The event ID
// becomes the message ID so the broker drops re-deliveries inside its
// duplicate window.
type NATS struct {
	conn *jetstreamx.Connection
	conv serde.BinarySerde
	log  *slog.Logger
}

var _ Invoker = (*NATS)(nil)

func NewNATS(conn *jetstreamx.Connection, conv serde.BinarySerde, log *slog.Logger) *NATS {
	if log == nil {
		log = slog.Default()
	}
	return &NATS{conn: conn, conv: conv, log: log}
}

func (n *NATS) Invoke(ctx context.Context, name string, req Request) error {
	data, err := n.conv.SerializeBinary(req)
	if err != nil {
		return fmt.Errorf("encode request for agent %s: %w", name, err)
	}

	msg := nats.NewMsg(Subject(name))
	msg.Data = data
	msg.Header.Set(api.EventTypeHeader, req.EventType)

	var opts []jetstream.PublishOpt
	if req.EventID != "" {
		opts = append(opts, jetstream.WithMsgID(req.EventID))
	}
	ack, err := n.conn.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return fmt.Errorf("invoke agent %s: %w", name, err)
	}
	if ack.Duplicate {
		n.log.Debug("agent request already delivered", "agent", name, "event_id", req.EventID)
	}
	return nil
}

func Subject(name string) string {
	return fmt.Sprintf(api.AgentInvokeSubjectPattern, name)
}
