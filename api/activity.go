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

// ActivityRequest is sent to a remote worker on activity.<name>.invoke.
// Input is the serialized call input.
type ActivityRequest struct {
	Activity       string `json:"activity"`
	SagaID         string `json:"sagaId,omitempty"`
	Step           int    `json:"step"`
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Input          []byte `json:"input"`
}

// ActivityReply is the worker's answer. A non-empty Error fails the
// attempt; Fatal marks the failure as not worth retrying.
type ActivityReply struct {
	Output []byte `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Fatal  bool   `json:"fatal,omitempty"`
}
