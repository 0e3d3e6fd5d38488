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

package app

import (
	"log/slog"
	"testing"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/config"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/remote"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/stresstest"
)

func TestOptions_Apply(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			NATS:   config.NATSConfig{Host: "localhost", Port: "4222", URL: "nats://nats.example:4222"},
			Server: config.ServerConfig{Host: "localhost", Port: "8080"},
		}
	}

	tests := []struct {
		name    string
		opts    Options
		natsURL string
		addr    string
		routing string
	}{
		{name: "no overrides keeps env URL", natsURL: "nats://nats.example:4222", addr: "localhost:8080"},
		{
			name:    "nats port override rebuilds URL",
			opts:    Options{NATSPort: "4333"},
			natsURL: "nats://localhost:4333",
			addr:    "localhost:8080",
		},
		{
			name:    "all overrides",
			opts:    Options{NATSHost: "nats", NATSPort: "4222", HTTPHost: "0.0.0.0", HTTPPort: "9000", RoutingFile: "routing.yaml"},
			natsURL: "nats://nats:4222",
			addr:    "0.0.0.0:9000",
			routing: "routing.yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.opts.apply(cfg)
			if cfg.NATS.URL != tt.natsURL {
				t.Errorf("NATS URL = %q, want %q", cfg.NATS.URL, tt.natsURL)
			}
			if cfg.HTTPAddr() != tt.addr {
				t.Errorf("HTTPAddr() = %q, want %q", cfg.HTTPAddr(), tt.addr)
			}
			if cfg.Orchestration.RoutingFile != tt.routing {
				t.Errorf("routing file = %q, want %q", cfg.Orchestration.RoutingFile, tt.routing)
			}
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	defs := sagas.Definitions()
	reg, err := buildRegistry(nil, &serde.JsonSerde{}, "v0.1.0", defs, slog.Default())
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}

	for _, name := range sagas.ActivityNames(defs) {
		act, err := reg.Get(name)
		if err != nil {
			t.Errorf("activity %s not bound: %v", name, err)
			continue
		}
		_, isRemote := act.(*remote.Activity)
		if name == stresstest.AggregateResults && isRemote {
			t.Errorf("%s bound remotely, want in-process", name)
		}
		if name != stresstest.AggregateResults && !isRemote {
			t.Errorf("%s bound in-process as %T", name, act)
		}
	}
}
