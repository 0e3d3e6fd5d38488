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

package api

type SagaCommandType string

const (
	StartSagaCommand  SagaCommandType = "StartSaga"
	SagaStatusCommand SagaCommandType = "SagaStatus"
	SignalSagaCommand SagaCommandType = "SignalSaga"
)

type (
	Command struct {
		CommandType SagaCommandType `json:"type"`
		Attributes  []byte          `json:"attributes"`
	}

	StartSagaAttributes struct {
		SagaType SagaType       `json:"saga_type"`
		Payload  map[string]any `json:"payload"`
	}

	StartSagaReply struct {
		Error     string `json:"error,omitempty"`
		Duplicate bool   `json:"duplicate,omitempty"`
		SagaID    string `json:"saga_id"`
	}

	SagaStatusAttributes struct {
		SagaID string `json:"saga_id"`
	}

	SagaStatusReply struct {
		Error  string      `json:"error,omitempty"`
		Status *StatusView `json:"status,omitempty"`
	}

	SignalSagaAttributes struct {
		SagaID string `json:"saga_id"`
		Signal string `json:"signal"`
		Args   []any  `json:"args"`
	}

	SignalSagaReply struct {
		Error string `json:"error,omitempty"`
	}

	// ErrorReply answers a command that could not be decoded.
	ErrorReply struct {
		Error string `json:"error"`
	}
)
