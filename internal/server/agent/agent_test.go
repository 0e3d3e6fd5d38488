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

package agent

import (
	"context"
	"testing"
)

func TestSubject(t *testing.T) {
	if got := Subject("commander"); got != "agents.commander.invoke" {
		t.Errorf("Subject = %q", got)
	}
}

func TestFunc(t *testing.T) {
	var got Request
	var inv Invoker = Func(func(_ context.Context, name string, req Request) error {
		if name != "simulation" {
			t.Errorf("name = %q", name)
		}
		got = req
		return nil
	})
	if err := inv.Invoke(context.Background(), "simulation", Request{EventID: "e1", EventType: "ASSET_ONBOARD"}); err != nil {
		t.Fatal(err)
	}
	if got.EventID != "e1" || got.EventType != "ASSET_ONBOARD" {
		t.Errorf("request = %+v", got)
	}
}
