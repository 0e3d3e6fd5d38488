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

// Package history publishes the audit trail of saga execution as events on
// history.<sagaID>, one subject per saga.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/types"
)

type Publisher interface {
	Publish(ctx context.Context, sagaID string, event api.SagaEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, api.SagaEvent) error { return nil }

type JetStream struct {
	conn *jetstreamx.Connection
	conv serde.BinarySerde
}

func NewJetStream(conn *jetstreamx.Connection, conv serde.BinarySerde) *JetStream {
	return &JetStream{conn: conn, conv: conv}
}

func (p *JetStream) Publish(ctx context.Context, sagaID string, event api.SagaEvent) error {
	data, err := p.conv.SerializeBinary(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}

	msg := nats.NewMsg(fmt.Sprintf(api.HistoryPublishSubjectPattern, sagaID))
	msg.Data = data
	msg.Header.Set(api.SagaEventNameHeader, event.EventName())

	id, err := types.NewEventID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	if _, err := p.conn.PublishMsg(ctx, msg, jetstream.WithMsgID(id.String())); err != nil {
		return err
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]api.SagaEvent
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]api.SagaEvent)}
}

func (r *Recorder) Publish(_ context.Context, sagaID string, event api.SagaEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[sagaID] = append(r.events[sagaID], event)
	return nil
}

// Names lists the event names recorded for a saga, in publish order.
func (r *Recorder) Names(sagaID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events[sagaID]))
	for _, e := range r.events[sagaID] {
		names = append(names, e.EventName())
	}
	return names
}

func (r *Recorder) Events(sagaID string) []api.SagaEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.SagaEvent(nil), r.events[sagaID]...)
}
