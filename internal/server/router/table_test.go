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

package router

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "saga:AssetUnwind", want: Target{KindSaga, "AssetUnwind"}},
		{in: "agent:commander", want: Target{KindAgent, "commander"}},
		{in: "simulation", want: Target{KindAgent, "simulation"}},
		{in: " agent : commander ", want: Target{KindAgent, "commander"}},
		{in: "queue:x", wantErr: true},
		{in: "saga:", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTarget(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultTable(t *testing.T) {
	table, err := LoadTable("")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	tests := map[string]Target{
		"MARKET_SHOCK":          {KindAgent, "commander"},
		"ASSET_ONBOARD":         {KindAgent, "simulation"},
		"UNWIND_ASSET":          {KindSaga, "AssetUnwind"},
		"KYC_SUBMITTED":         {KindSaga, "KYC"},
		"VALUATION_REQUESTED":   {KindSaga, "ValuationCycle"},
		"STRESS_TEST_REQUESTED": {KindSaga, "StressTest"},
	}
	for eventType, want := range tests {
		if got, ok := table.Lookup(eventType); !ok || got != want {
			t.Errorf("Lookup(%s) = %v, %v; want %v", eventType, got, ok, want)
		}
	}
	if _, ok := table.Lookup("UNKNOWN_EVENT"); ok {
		t.Error("unmapped event type found")
	}
	if len(table.Policies()) != 0 {
		t.Errorf("default policies = %v", table.Policies())
	}
}

func TestParseTable(t *testing.T) {
	doc := `
routing:
  MARKET_SHOCK: saga:StressTest
  NEW_EVENT: agent:researcher
policies:
  StressTest: {max_attempts: 5, base_delay: 2s, backoff: linear, max_delay: 10s}
  KYC: {max_attempts: 4}
agents: [commander, simulation, researcher]
`
	table, err := ParseTable([]byte(doc))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if got, _ := table.Lookup("MARKET_SHOCK"); got != (Target{KindSaga, "StressTest"}) {
		t.Errorf("MARKET_SHOCK = %v", got)
	}
	if got, _ := table.Lookup("NEW_EVENT"); got != (Target{KindAgent, "researcher"}) {
		t.Errorf("NEW_EVENT = %v", got)
	}
	if _, ok := table.Lookup("RISK_ALERT"); !ok {
		t.Error("default route dropped")
	}

	policies := table.Policies()
	st := policies[api.StressTest]
	if st.MaxAttempts != 5 || st.BaseDelay != 2*time.Second || st.Backoff != retry.Linear || st.MaxDelay != 10*time.Second {
		t.Errorf("StressTest policy = %+v", st)
	}
	kyc := policies[api.KYC]
	if kyc.MaxAttempts != 4 || kyc.BaseDelay != time.Second || kyc.Backoff != retry.Exponential {
		t.Errorf("KYC policy = %+v", kyc)
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{name: "unknown saga", doc: "routing: {X: 'saga:Payroll'}", field: "routing.X"},
		{name: "unknown agent", doc: "routing: {X: 'agent:oracle'}", field: "routing.X"},
		{name: "agent list replaced", doc: "agents: [oracle]", field: "routing.ASSET_ONBOARD"},
		{name: "bad kind", doc: "routing: {X: 'webhook:y'}", field: "routing.X"},
		{name: "policy for unknown saga", doc: "policies: {Payroll: {max_attempts: 2}}", field: "policies"},
		{name: "bad backoff", doc: "policies: {KYC: {backoff: cubic}}", field: "policies.KYC"},
		{name: "bad attempts", doc: "policies: {KYC: {max_attempts: -1}}", field: "policies.KYC"},
		{name: "malformed yaml", doc: "routing: [", field: "routing file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.doc))
			var cfgErr *saga.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", cfgErr.Field, tt.field, err)
			}
		})
	}
}

func TestLoadTable_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	if err := os.WriteFile(path, []byte("routing:\n  FUND_CLOSE: saga:ValuationCycle\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got, _ := table.Lookup("FUND_CLOSE"); got.Name != "ValuationCycle" {
		t.Errorf("FUND_CLOSE = %v", got)
	}

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "routing file") {
		t.Errorf("missing file error = %v", err)
	}
}
