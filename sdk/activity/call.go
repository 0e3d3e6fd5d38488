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

package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
)

// Call is one unit of work a saga definition asks the executor to run.
// A Call is built fresh by the definition for every decision and is never
// shared between concurrent steps.
type Call struct {
	Name  string
	Input any

	// Timeout bounds a single attempt. Zero means the executor default.
	Timeout time.Duration

	// Retry overrides the saga's policy for this call when set.
	Retry *retry.Policy
}

func (c Call) String() string {
	return c.Name
}

type infoKey struct{}

// Info describes the attempt an activity is executing.
type Info struct {
	SagaID  string
	Step    int
	Attempt int
}

// IdempotencyKey is stable across every attempt of the same step.
func (i Info) IdempotencyKey() string {
	return fmt.Sprintf("%s/%d", i.SagaID, i.Step)
}

func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

func InfoFrom(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// IdempotencyKey returns the key of the current step, or "" outside an attempt.
func IdempotencyKey(ctx context.Context) string {
	info, ok := InfoFrom(ctx)
	if !ok {
		return ""
	}
	return info.IdempotencyKey()
}
