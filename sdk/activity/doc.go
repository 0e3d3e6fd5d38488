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

// Package activity defines the boundary between the orchestration core and
// the external collaborators that perform individual saga steps.
//
// An activity is a named, versioned function from a serialized input to a
// serialized output. Failures are classified with Retryable or Fatal; an
// unclassified error is treated as retryable. Activities are invoked at
// least once, so implementations derive their side-effect keys from
// IdempotencyKey(ctx), which is stable across attempts of the same step.
package activity
