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

package sagas

import (
	"testing"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

func TestDefinitions_CoverEverySagaType(t *testing.T) {
	defs := Definitions()
	seen := map[api.SagaType]bool{}
	for _, def := range defs {
		if seen[def.Type()] {
			t.Errorf("%s defined twice", def.Type())
		}
		seen[def.Type()] = true
		if err := def.Policy().Validate(); err != nil {
			t.Errorf("%s policy: %v", def.Type(), err)
		}
		if def.Timeout() <= 0 {
			t.Errorf("%s has no timeout", def.Type())
		}
	}
	for _, typ := range api.SagaTypes {
		if !seen[typ] {
			t.Errorf("no definition for %s", typ)
		}
	}
}

func TestLocalActivities_AreIssuedByDefinitions(t *testing.T) {
	names := map[string]bool{}
	for _, n := range ActivityNames(Definitions()) {
		names[n] = true
	}
	for _, act := range LocalActivities(&serde.JsonSerde{}) {
		if !names[act.Name()] {
			t.Errorf("local activity %s is not issued by any saga", act.Name())
		}
	}
}
