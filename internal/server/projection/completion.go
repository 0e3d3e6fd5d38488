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

// Package projection derives read-side notifications from the saga history
// stream.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/history"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
)

// errMalformed marks history messages that can never be projected.
var errMalformed = errors.New("malformed history event")

// Sink receives projected notifications.
type Sink interface {
	Publish(ctx context.Context, subj string, data []byte) error
}

// Completions republishes terminal saga events on saga.completed.<type>.
type Completions struct {
	sink Sink
	conv serde.BinarySerde
	log  *slog.Logger
}

func NewCompletions(sink Sink, conv serde.BinarySerde, log *slog.Logger) *Completions {
	if log == nil {
		log = slog.Default()
	}
	return &Completions{sink: sink, conv: conv, log: log.With("component", "projector", "projection", "completion")}
}

// Handle projects one history event. Non-terminal events are ignored.
func (p *Completions) Handle(ctx context.Context, name string, data []byte) error {
	event, err := history.Decode(name, data, p.conv)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	c, ok := history.Completion(event)
	if !ok {
		return nil
	}

	payload, err := p.conv.SerializeBinary(c)
	if err != nil {
		return fmt.Errorf("%w: encode completion of %s: %w", errMalformed, c.SagaID, err)
	}
	if err := p.sink.Publish(ctx, Subject(c.Type), payload); err != nil {
		return err
	}
	p.log.Info("saga completion published", "saga_id", c.SagaID, "saga_type", c.Type, "status", c.Status)
	return nil
}

// Subject is the completion subject of a saga type.
func Subject(t api.SagaType) string {
	return fmt.Sprintf(api.CompletionPublishSubjectPattern, t.Slug())
}

// Run consumes the saga history stream until ctx is done.
func (p *Completions) Run(ctx context.Context, conn *jetstreamx.Connection) error {
	consumer, err := conn.EnsureConsumer(ctx, api.SagaHistoryStream, jetstream.ConsumerConfig{
		Durable:       api.CompletionProjectorConsumer,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: api.HistoryFilterSubjectPattern,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion projector consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		name := msg.Headers().Get(api.SagaEventNameHeader)
		if err := p.Handle(ctx, name, msg.Data()); err != nil {
			if errors.Is(err, errMalformed) {
				p.log.Warn("dropping history event", "subject", msg.Subject(), "event", name, "error", err)
				_ = msg.Term()
				return
			}
			p.log.Error("failed to publish completion", "subject", msg.Subject(), "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("completion projector failed: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	p.log.Debug("completion projector stopped")
	return nil
}
