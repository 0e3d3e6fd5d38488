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

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
)

const (
	ackWait    = 30 * time.Second
	maxDeliver = 10
)

// Handler processes one change. A returned error redelivers the change.
type Handler func(ctx context.Context, c Change) error

// Subscriber reads changes from durable consumers on the domain events
// stream. Delivery is at least once: a change is acknowledged only after
// its handler returns nil.
type Subscriber struct {
	conn *jetstreamx.Connection
	conv serde.BinarySerde
	log  *slog.Logger
}

func NewSubscriber(conn *jetstreamx.Connection, conv serde.BinarySerde, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{conn: conn, conv: conv, log: log.With("component", "ingest")}
}

// SubscribeToEvents blocks, delivering fund_events changes, until ctx is done.
func (s *Subscriber) SubscribeToEvents(ctx context.Context, fn Handler) error {
	return s.subscribe(ctx, TableFundEvents, api.FundEventsSubject, api.FundEventsConsumer, fn)
}

func (s *Subscriber) SubscribeToAssets(ctx context.Context, fn Handler) error {
	return s.subscribe(ctx, TableAssets, api.AssetsSubject, api.AssetsConsumer, fn)
}

func (s *Subscriber) SubscribeToFlows(ctx context.Context, fn Handler) error {
	return s.subscribe(ctx, TableFundFlows, api.FundFlowsSubject, api.FundFlowsConsumer, fn)
}

func (s *Subscriber) subscribe(ctx context.Context, table, subject, durable string, fn Handler) error {
	consumer, err := s.conn.EnsureConsumer(ctx, api.DomainEventsStream, jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		FilterSubject: subject,
	})
	if err != nil {
		return fmt.Errorf("create %s consumer: %w", table, err)
	}

	log := s.log.With("table", table)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, log, table, msg, fn)
	})
	if err != nil {
		return fmt.Errorf("consume %s changes: %w", table, err)
	}

	log.Info("subscribed", "subject", subject)
	<-ctx.Done()
	cc.Stop()
	log.Debug("subscription stopped")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, log *slog.Logger, table string, msg jetstream.Msg, fn Handler) {
	change, err := Decode(table, msg.Data(), s.conv)
	if err != nil {
		log.Error("dropping malformed change", "error", err)
		if err := msg.Term(); err != nil {
			log.Warn("term failed", "error", err)
		}
		return
	}
	change.ID = deliveryID(msg)

	if err := fn(ctx, change); err != nil {
		log.Warn("change handler failed, redelivering", "event_type", change.RoutingKey(), "change_id", change.ID, "error", err)
		if err := msg.Nak(); err != nil {
			log.Warn("nak failed", "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		log.Warn("ack failed", "change_id", change.ID, "error", err)
	}
}

func deliveryID(msg jetstream.Msg) string {
	if id := msg.Headers().Get(nats.MsgIdHdr); id != "" {
		return id
	}
	meta, err := msg.Metadata()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
}
