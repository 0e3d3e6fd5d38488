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

// Package sagas lists the saga definitions the orchestrator runs.
package sagas

import (
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/assetunwind"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/kyc"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/stresstest"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/valuation"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

func Definitions() []saga.Definition {
	return []saga.Definition{
		assetunwind.Definition{},
		kyc.Definition{},
		valuation.Definition{},
		stresstest.Definition{},
	}
}

// LocalActivities are implemented in process rather than by an external
// collaborator.
func LocalActivities(conv serde.BinarySerde) []activity.Activity {
	return []activity.Activity{
		stresstest.AggregateActivity(conv),
	}
}

// ActivityNames lists every activity the definitions issue, without
// duplicates, in definition order.
func ActivityNames(defs []saga.Definition) []string {
	seen := map[string]bool{}
	var names []string
	for _, def := range defs {
		for _, name := range def.Activities() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
