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

// Package scheduler is the external entry point for starting, querying and
// signalling sagas. Every trigger derives a deterministic business key so
// repeated triggers for the same work collapse into one running saga.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/assetunwind"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/kyc"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/stresstest"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/valuation"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	tracerName = "github.com/DealExMachina/evergreen-dragon-os/internal/server/scheduler"

	// scenarioKeyLen is the number of hex digits of the scenario digest
	// used as the stress test business key.
	scenarioKeyLen = 16
)

// ErrInvalidInput is wrapped by every trigger argument error.
var ErrInvalidInput = errors.New("invalid trigger input")

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

type Scheduler struct {
	exec   saga.Executor
	conv   *serde.TypeConverter
	log    *slog.Logger
	tracer trace.Tracer
}

func New(exec saga.Executor, conv serde.BinarySerde, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:   exec,
		conv:   serde.NewTypeConverter(conv),
		log:    slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

func (s *Scheduler) TriggerAssetUnwind(ctx context.Context, assetID, reason string) (string, error) {
	if strings.TrimSpace(assetID) == "" {
		return "", invalid("asset ID is required")
	}
	return s.start(ctx, api.AssetUnwind, assetID, assetunwind.Input{AssetID: assetID, Reason: reason})
}

// TriggerValuationCycle starts the cycle for quarter and year. The cycle is
// keyed by period, so at most one runs per quarter.
func (s *Scheduler) TriggerValuationCycle(ctx context.Context, quarter string, year int, assetIDs ...string) (string, error) {
	if strings.TrimSpace(quarter) == "" {
		return "", invalid("quarter is required")
	}
	if year <= 0 {
		return "", invalid("year must be positive, got %d", year)
	}
	key := fmt.Sprintf("%s-%d", quarter, year)
	return s.start(ctx, api.ValuationCycle, key, valuation.Input{Quarter: quarter, Year: year, AssetIDs: assetIDs})
}

func (s *Scheduler) TriggerStressTest(ctx context.Context, scenarios []stresstest.Scenario) (string, error) {
	if len(scenarios) == 0 {
		return "", invalid("at least one scenario is required")
	}
	for i, sc := range scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return "", invalid("scenario %d has no name", i)
		}
	}
	key, err := ScenarioKey(scenarios)
	if err != nil {
		return "", err
	}
	return s.start(ctx, api.StressTest, key, stresstest.Input{Scenarios: scenarios})
}

func (s *Scheduler) TriggerKYC(ctx context.Context, investorID string, documents []kyc.Document) (string, error) {
	if strings.TrimSpace(investorID) == "" {
		return "", invalid("investor ID is required")
	}
	return s.start(ctx, api.KYC, investorID, kyc.Input{InvestorID: investorID, Documents: documents})
}

func (s *Scheduler) GetWorkflowStatus(ctx context.Context, sagaID string) (api.StatusView, error) {
	return s.exec.Status(ctx, sagaID)
}

func (s *Scheduler) SignalWorkflow(ctx context.Context, sagaID, name string, args ...any) error {
	if err := s.exec.Signal(ctx, sagaID, name, args...); err != nil {
		return err
	}
	s.log.Info("saga signalled", "saga_id", sagaID, "signal", name)
	return nil
}

// Trigger starts sagaType from a loosely typed payload, such as a domain
// event row or a command. Payload keys follow the JSON names of the saga
// inputs. A nested "payload" object is used in place of the outer one.
func (s *Scheduler) Trigger(ctx context.Context, sagaType api.SagaType, payload map[string]any) (string, error) {
	if inner, ok := payload["payload"].(map[string]any); ok {
		payload = inner
	}

	switch sagaType {
	case api.AssetUnwind:
		var in assetunwind.Input
		if err := s.decode(payload, &in); err != nil {
			return "", err
		}
		return s.TriggerAssetUnwind(ctx, in.AssetID, in.Reason)
	case api.ValuationCycle:
		var in valuation.Input
		if err := s.decode(payload, &in); err != nil {
			return "", err
		}
		return s.TriggerValuationCycle(ctx, in.Quarter, in.Year, in.AssetIDs...)
	case api.StressTest:
		var in stresstest.Input
		if err := s.decode(payload, &in); err != nil {
			return "", err
		}
		return s.TriggerStressTest(ctx, in.Scenarios)
	case api.KYC:
		var in kyc.Input
		if err := s.decode(payload, &in); err != nil {
			return "", err
		}
		return s.TriggerKYC(ctx, in.InvestorID, in.Documents)
	default:
		return "", fmt.Errorf("%w: %s", saga.ErrUnknownSagaType, sagaType)
	}
}

func (s *Scheduler) decode(payload map[string]any, out any) error {
	if err := s.conv.ConvertInto(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *Scheduler) start(ctx context.Context, sagaType api.SagaType, key string, input any) (string, error) {
	ctx, span := s.tracer.Start(ctx, "trigger "+sagaType.String(),
		trace.WithAttributes(
			attribute.String("saga.type", sagaType.String()),
			attribute.String("saga.business_key", key),
		))
	defer span.End()

	id, err := s.exec.Start(ctx, sagaType, key, input)
	if err != nil {
		if !saga.IsDuplicate(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}
	span.SetAttributes(attribute.String("saga.id", id))
	s.log.Info("saga triggered", "saga_type", sagaType, "business_key", key, "saga_id", id)
	return id, nil
}

// ScenarioKey is the business key of a stress test: a prefix of the sha256
// of the JSON encoded scenarios. Map keys are encoded in sorted order so
// equal scenario sets always share a key.
func ScenarioKey(scenarios []stresstest.Scenario) (string, error) {
	digest, err := serde.DigestValue(&serde.JsonSerde{}, scenarios)
	if err != nil {
		return "", fmt.Errorf("digest scenarios: %w", err)
	}
	return digest[:scenarioKeyLen], nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
