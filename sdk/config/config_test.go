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

package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		url     string
		serde   string
		timeout time.Duration
	}{
		{name: "defaults", url: "nats://localhost:4222", serde: "json", timeout: DefaultRequestTimeout},
		{
			name:    "host and port",
			env:     map[string]string{"NATS_HOST": "nats", "NATS_PORT": "4333", "SERDE": "msgpack", "TIMEOUTS_REQUEST_TIMEOUT": "3s"},
			url:     "nats://nats:4333",
			serde:   "msgpack",
			timeout: 3 * time.Second,
		},
		{
			name:    "explicit URL wins",
			env:     map[string]string{"NATS_URL": "tls://broker:4443", "NATS_HOST": "ignored"},
			url:     "tls://broker:4443",
			serde:   "json",
			timeout: DefaultRequestTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.NATS.URL != tt.url || cfg.Serde != tt.serde || cfg.Timeouts.RequestTimeout != tt.timeout {
				t.Errorf("Load() = %+v", cfg)
			}
			if _, err := cfg.Serializer(); err != nil {
				t.Errorf("Serializer() error = %v", err)
			}
			if len(cfg.Options()) == 0 {
				t.Error("no connection options")
			}
		})
	}
}
