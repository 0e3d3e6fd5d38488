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
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

type Kind string

const (
	KindSaga  Kind = "saga"
	KindAgent Kind = "agent"
)

// Target is the single handler an event type is routed to.
type Target struct {
	Kind Kind
	Name string
}

func (t Target) String() string { return string(t.Kind) + ":" + t.Name }

// ParseTarget reads "saga:<Type>" or "agent:<name>". A bare name is an agent.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	kind, name, found := strings.Cut(s, ":")
	if !found {
		kind, name = string(KindAgent), s
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Target{}, fmt.Errorf("empty target %q", s)
	}
	switch Kind(kind) {
	case KindSaga, KindAgent:
		return Target{Kind: Kind(kind), Name: name}, nil
	default:
		return Target{}, fmt.Errorf("unknown target kind %q in %q", kind, s)
	}
}

// Table maps event types to targets and carries per saga type retry
// policy overrides. It is read-only once loaded.
type Table struct {
	routes   map[string]Target
	policies map[api.SagaType]retry.Policy
	agents   []string
}

var DefaultAgents = []string{"commander", "simulation"}

// DefaultRoutes mirrors the platform's event-to-agent map, extended with
// the saga triggers.
var DefaultRoutes = map[string]Target{
	"ASSET_ONBOARD":     {KindAgent, "simulation"},
	"VALUATION_CYCLE":   {KindAgent, "simulation"},
	"MARKET_SHOCK":      {KindAgent, "commander"},
	"LIQUIDITY_STRESS":  {KindAgent, "commander"},
	"STRATEGIC_REQUEST": {KindAgent, "commander"},
	"RISK_ALERT":        {KindAgent, "commander"},
	"COMPLIANCE_BREACH": {KindAgent, "commander"},

	"UNWIND_ASSET":          {KindSaga, string(api.AssetUnwind)},
	"KYC_SUBMITTED":         {KindSaga, string(api.KYC)},
	"VALUATION_REQUESTED":   {KindSaga, string(api.ValuationCycle)},
	"STRESS_TEST_REQUESTED": {KindSaga, string(api.StressTest)},
}

func DefaultTable() *Table {
	return &Table{
		routes:   maps.Clone(DefaultRoutes),
		policies: map[api.SagaType]retry.Policy{},
		agents:   slices.Clone(DefaultAgents),
	}
}

type tableFile struct {
	Routing  map[string]string     `yaml:"routing"`
	Policies map[string]policyFile `yaml:"policies"`
	Agents   []string              `yaml:"agents"`
}

type policyFile struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Backoff     string        `yaml:"backoff"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// LoadTable reads a routing file. An empty path yields the defaults.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		t := DefaultTable()
		return t, t.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &saga.ConfigurationError{Field: "routing file", Cause: err}
	}
	return ParseTable(data)
}

// ParseTable applies a routing document on top of the defaults. Routes in
// the document replace or extend the default routes; a non-empty agents
// list replaces the default agents.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &saga.ConfigurationError{Field: "routing file", Cause: err}
	}

	t := DefaultTable()
	if len(f.Agents) > 0 {
		t.agents = slices.Clone(f.Agents)
	}
	for eventType, raw := range f.Routing {
		target, err := ParseTarget(raw)
		if err != nil {
			return nil, &saga.ConfigurationError{Field: "routing." + eventType, Cause: err}
		}
		t.routes[eventType] = target
	}
	for name, pf := range f.Policies {
		p, err := pf.policy()
		if err != nil {
			return nil, &saga.ConfigurationError{Field: "policies." + name, Cause: err}
		}
		t.policies[api.SagaType(name)] = p
	}
	return t, t.Validate()
}

func (pf policyFile) policy() (retry.Policy, error) {
	p := retry.Default()
	if pf.MaxAttempts != 0 {
		p.MaxAttempts = pf.MaxAttempts
	}
	if pf.BaseDelay != 0 {
		p.BaseDelay = pf.BaseDelay
	}
	if pf.Backoff != "" {
		b, err := retry.ParseBackoff(pf.Backoff)
		if err != nil {
			return retry.Policy{}, err
		}
		p.Backoff = b
	}
	p.MaxDelay = pf.MaxDelay
	return p, nil
}

// Validate rejects routes to unknown saga types or agents and malformed
// policies.
func (t *Table) Validate() error {
	for _, eventType := range slices.Sorted(maps.Keys(t.routes)) {
		target := t.routes[eventType]
		switch target.Kind {
		case KindSaga:
			if !api.SagaType(target.Name).Valid() {
				return saga.Configf("routing."+eventType, "unknown saga type %q", target.Name)
			}
		case KindAgent:
			if !slices.Contains(t.agents, target.Name) {
				return saga.Configf("routing."+eventType, "unknown agent %q", target.Name)
			}
		default:
			return saga.Configf("routing."+eventType, "unknown target kind %q", target.Kind)
		}
	}
	for _, typ := range slices.Sorted(maps.Keys(t.policies)) {
		if !typ.Valid() {
			return saga.Configf("policies", "unknown saga type %q", typ)
		}
		if err := t.policies[typ].Validate(); err != nil {
			return &saga.ConfigurationError{Field: "policies." + string(typ), Cause: err}
		}
	}
	return nil
}

func (t *Table) Lookup(eventType string) (Target, bool) {
	target, ok := t.routes[eventType]
	return target, ok
}

// EventTypes lists the routed event types in sorted order.
func (t *Table) EventTypes() []string {
	return slices.Sorted(maps.Keys(t.routes))
}

func (t *Table) Agents() []string { return slices.Clone(t.agents) }

// Policies returns the retry overrides keyed by saga type.
func (t *Table) Policies() map[api.SagaType]retry.Policy {
	return maps.Clone(t.policies)
}

// HasKind reports whether any route targets kind.
func (t *Table) HasKind(kind Kind) bool {
	for _, target := range t.routes {
		if target.Kind == kind {
			return true
		}
	}
	return false
}
