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

// Package stresstest runs stress scenarios against the portfolio, turns
// severe NAV impacts into alerts and notifies the commander agent.
package stresstest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	RunScenarios     = "runScenarios"
	AggregateResults = "aggregateResults"
	NotifyCommander  = "notifyCommander"

	// SignalSuppressNotification skips the commander notification.
	SignalSuppressNotification = "suppressNotification"

	// HighImpactThreshold is the NAV impact below which an asset raises a
	// high severity alert.
	HighImpactThreshold = -0.10

	LevelHigh = "high"

	Timeout = time.Hour
)

var ErrNoScenarios = errors.New("no stress scenarios provided")

type (
	Scenario struct {
		Name       string             `json:"name"`
		Parameters map[string]float64 `json:"parameters"`
		AssetIDs   []string           `json:"assetIds,omitempty"`
	}

	Input struct {
		Scenarios []Scenario `json:"scenarios"`
	}

	Impact struct {
		NAV       float64 `json:"nav"`
		Liquidity float64 `json:"liquidity"`
	}

	ScenarioResult struct {
		AssetID  string `json:"assetId"`
		Scenario string `json:"scenario"`
		Impact   Impact `json:"impact"`
	}

	AggregateRequest struct {
		Results []ScenarioResult `json:"results"`
	}

	Summary struct {
		TotalAssets int `json:"totalAssets"`
		AlertCount  int `json:"alertCount"`
	}

	Alert struct {
		Level    string `json:"level"`
		Message  string `json:"message"`
		AssetID  string `json:"assetId"`
		Scenario string `json:"scenario,omitempty"`
	}

	Aggregation struct {
		Summary Summary `json:"summary"`
		Alerts  []Alert `json:"alerts"`
	}

	Notification struct {
		Alerts []Alert `json:"alerts"`
	}

	Result struct {
		Scenarios   []string `json:"scenarios"`
		Summary     Summary  `json:"summary"`
		Alerts      []Alert  `json:"alerts"`
		ResultCount int      `json:"resultCount"`
		Notified    bool     `json:"notified"`
	}
)

// Aggregate summarizes scenario results and raises a high alert for every
// result whose NAV impact is below HighImpactThreshold.
func Aggregate(results []ScenarioResult) Aggregation {
	alerts := []Alert{}
	for _, r := range results {
		if r.Impact.NAV < HighImpactThreshold {
			alerts = append(alerts, Alert{
				Level:    LevelHigh,
				Message:  fmt.Sprintf("Asset %s shows significant NAV impact: %.2f%%", r.AssetID, r.Impact.NAV*100),
				AssetID:  r.AssetID,
				Scenario: r.Scenario,
			})
		}
	}
	return Aggregation{
		Summary: Summary{TotalAssets: len(results), AlertCount: len(alerts)},
		Alerts:  alerts,
	}
}

// AggregateActivity is the in-process implementation of aggregateResults.
func AggregateActivity(conv serde.BinarySerde) activity.Activity {
	return activity.New(AggregateResults, "1", conv, func(_ context.Context, req AggregateRequest) (Aggregation, error) {
		return Aggregate(req.Results), nil
	})
}

type Definition struct{}

var _ saga.Definition = Definition{}

func (Definition) Type() api.SagaType { return api.StressTest }

func (Definition) Activities() []string {
	return []string{RunScenarios, AggregateResults, NotifyCommander}
}

func (Definition) Signals() map[string]saga.SignalHandler {
	return map[string]saga.SignalHandler{
		SignalSuppressNotification: func(args []any) error { return saga.ExpectArgs(args, 0) },
	}
}

func (Definition) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Second, Backoff: retry.Exponential}
}

func (Definition) Timeout() time.Duration { return Timeout }

func (Definition) Next(s *saga.State) saga.Decision {
	var in Input
	if err := s.Input(&in); err != nil {
		return saga.Fail(err)
	}
	if len(in.Scenarios) == 0 {
		return saga.Fail(ErrNoScenarios)
	}
	r := s.Replay()

	var (
		results []ScenarioResult
		names   = make([]string, 0, len(in.Scenarios))
	)
	for _, sc := range in.Scenarios {
		var out []ScenarioResult
		if err := r.Run(activity.Call{Name: RunScenarios, Input: sc}, &out); err != nil {
			return r.Stop(err)
		}
		for i := range out {
			if out[i].Scenario == "" {
				out[i].Scenario = sc.Name
			}
		}
		results = append(results, out...)
		names = append(names, sc.Name)
	}

	var agg Aggregation
	if err := r.Run(activity.Call{Name: AggregateResults, Input: AggregateRequest{Results: results}}, &agg); err != nil {
		return r.Stop(err)
	}

	notified := false
	if len(agg.Alerts) > 0 && len(r.Signals(SignalSuppressNotification)) == 0 {
		if err := r.Run(activity.Call{Name: NotifyCommander, Input: Notification{Alerts: agg.Alerts}}, nil); err != nil {
			return r.Stop(err)
		}
		notified = true
	}

	return saga.Complete(Result{
		Scenarios:   names,
		Summary:     agg.Summary,
		Alerts:      agg.Alerts,
		ResultCount: len(results),
		Notified:    notified,
	})
}
