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

package history

import (
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

var eventFactories = map[string]func() api.SagaEvent{
	(&api.SagaStarted{}).EventName():   func() api.SagaEvent { return &api.SagaStarted{} },
	(&api.StepStarted{}).EventName():   func() api.SagaEvent { return &api.StepStarted{} },
	(&api.StepCompleted{}).EventName(): func() api.SagaEvent { return &api.StepCompleted{} },
	(&api.StepFailed{}).EventName():    func() api.SagaEvent { return &api.StepFailed{} },
	(&api.SagaSignaled{}).EventName():  func() api.SagaEvent { return &api.SagaSignaled{} },
	(&api.SagaCompleted{}).EventName(): func() api.SagaEvent { return &api.SagaCompleted{} },
	(&api.SagaFailed{}).EventName():    func() api.SagaEvent { return &api.SagaFailed{} },
	(&api.SagaCancelled{}).EventName(): func() api.SagaEvent { return &api.SagaCancelled{} },
}

// Decode rebuilds a history event from its name header and payload.
func Decode(name string, payload []byte, conv serde.BinarySerde) (api.SagaEvent, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty saga event payload")
	}
	factory, ok := eventFactories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported saga event type %q", name)
	}

	event := factory()
	if err := conv.DeserializeBinary(payload, event); err != nil {
		return nil, fmt.Errorf("decode saga event (%s): %w", name, err)
	}
	return event, nil
}

// Completion maps a terminal event to its completion notice. ok is false
// for every non-terminal event.
func Completion(event api.SagaEvent) (c api.Completion, ok bool) {
	switch e := event.(type) {
	case *api.SagaCompleted:
		return api.Completion{SagaID: e.ID, Type: e.Type, Status: api.StatusCompleted, At: e.At}, true
	case *api.SagaFailed:
		return api.Completion{SagaID: e.ID, Type: e.Type, Status: api.StatusFailed, Error: e.Error, At: e.At}, true
	case *api.SagaCancelled:
		return api.Completion{SagaID: e.ID, Type: e.Type, Status: api.StatusCancelled, At: e.At}, true
	default:
		return api.Completion{}, false
	}
}
