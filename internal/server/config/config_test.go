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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/internal/server/types"
)

func validConfig() *Config {
	return &Config{
		Service: "evergreen-orchestrator",
		Version: "v1.0.0",
		Mode:    types.ModeRelease,
		Serde:   "msgpack",
		NATS: NATSConfig{
			Host:          "localhost",
			Port:          "4222",
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			DrainTimeout:  30 * time.Second,
		},
		Server: ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Store:  StoreConfig{Driver: StoreDriverJetStream},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "jetstream store", mutate: func(*Config) {}},
		{name: "memory store", mutate: func(c *Config) { c.Store.Driver = StoreDriverMemory }},
		{
			name: "postgres store",
			mutate: func(c *Config) {
				c.Store.Driver = StoreDriverPostgres
				c.Postgres = PostgresConfig{DSN: "postgres://evergreen@localhost/evergreen", MaxOpenConns: 4, ConnTimeout: time.Second}
			},
		},
		{name: "missing service name", mutate: func(c *Config) { c.Service = "" }, errMsg: "service name is required"},
		{name: "missing version", mutate: func(c *Config) { c.Version = "" }, errMsg: "version is required"},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "verbose" }, errMsg: "unknown mode"},
		{name: "unknown serde", mutate: func(c *Config) { c.Serde = "protobuf" }, errMsg: "protobuf"},
		{name: "missing NATS host", mutate: func(c *Config) { c.NATS.Host = "" }, errMsg: "NATS host is required"},
		{name: "invalid NATS port", mutate: func(c *Config) { c.NATS.Port = "invalid" }, errMsg: "invalid NATS port"},
		{name: "missing NATS URL", mutate: func(c *Config) { c.NATS.URL = "" }, errMsg: "NATS URL is required"},
		{name: "NATS max reconnects below -1", mutate: func(c *Config) { c.NATS.MaxReconnects = -2 }, errMsg: "max reconnects"},
		{name: "zero NATS reconnect wait", mutate: func(c *Config) { c.NATS.ReconnectWait = 0 }, errMsg: "reconnect wait"},
		{name: "zero NATS drain timeout", mutate: func(c *Config) { c.NATS.DrainTimeout = 0 }, errMsg: "drain timeout"},
		{name: "missing server host", mutate: func(c *Config) { c.Server.Host = "" }, errMsg: "server host is required"},
		{name: "server port not a number", mutate: func(c *Config) { c.Server.Port = "not-a-number" }, errMsg: "invalid server port"},
		{name: "server port out of range", mutate: func(c *Config) { c.Server.Port = "70000" }, errMsg: "invalid server port"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "redis" }, errMsg: "unknown store driver"},
		{
			name:   "postgres without DSN",
			mutate: func(c *Config) { c.Store.Driver = StoreDriverPostgres },
			errMsg: "postgres DSN is required",
		},
		{
			name: "postgres without pool",
			mutate: func(c *Config) {
				c.Store.Driver = StoreDriverPostgres
				c.Postgres = PostgresConfig{DSN: "postgres://localhost/evergreen", ConnTimeout: time.Second}
			},
			errMsg: "max open conns",
		},
		{name: "negative fanout", mutate: func(c *Config) { c.Orchestration.Fanout = -1 }, errMsg: "fanout"},
		{name: "negative dedupe window", mutate: func(c *Config) { c.Orchestration.DedupeWindow = -5 }, errMsg: "dedupe window"},
		{name: "log to file", mutate: func(c *Config) { c.Logger.Output = "stdout, file:/var/log/evergreen.log" }},
		{name: "unknown log level", mutate: func(c *Config) { c.Logger.Level = "chatty" }, errMsg: "unknown log level"},
		{name: "unknown log format", mutate: func(c *Config) { c.Logger.Format = "logfmt" }, errMsg: "unknown log format"},
		{name: "unknown log exporter", mutate: func(c *Config) { c.Logger.OTELExporter = "zipkin" }, errMsg: "unknown log exporter"},
		{name: "file output without path", mutate: func(c *Config) { c.Logger.Output = "file:" }, errMsg: "unknown log output"},
		{name: "unknown log output", mutate: func(c *Config) { c.Logger.Output = "syslog" }, errMsg: "unknown log output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("NATS_HOST", "nats.internal")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://evergreen@db/evergreen")
	t.Setenv("ORCHESTRATION_ROUTING_FILE", "/etc/evergreen/routing.yaml")
	t.Setenv("ORCHESTRATION_FANOUT", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FIELDS", "fund=evergreen")
	t.Setenv("SERDE", "msgpack")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.ServiceName() != "evergreen-orchestrator" || cfg.GetVersion() == "" {
		t.Errorf("service = %q, version = %q", cfg.ServiceName(), cfg.GetVersion())
	}
	if cfg.NATS.URL != "nats://nats.internal:4222" {
		t.Errorf("NATS URL = %q", cfg.NATS.URL)
	}
	if cfg.HTTPAddr() != "localhost:9090" {
		t.Errorf("HTTPAddr() = %q", cfg.HTTPAddr())
	}
	if cfg.Store.Driver != StoreDriverPostgres || cfg.PostgresDSN() != "postgres://evergreen@db/evergreen" {
		t.Errorf("store = %+v, dsn = %q", cfg.Store, cfg.PostgresDSN())
	}
	if cfg.PostgresMaxOpenConns() != DefaultPostgresMaxOpenConns || !cfg.Postgres.Migrate {
		t.Errorf("postgres defaults not applied: %+v", cfg.Postgres)
	}
	if cfg.Orchestration.RoutingFile != "/etc/evergreen/routing.yaml" || cfg.Orchestration.Fanout != 4 {
		t.Errorf("orchestration = %+v", cfg.Orchestration)
	}
	if cfg.LogLevel() != slog.LevelDebug || cfg.LogFormat() != "json" {
		t.Errorf("level = %v, format = %q", cfg.LogLevel(), cfg.LogFormat())
	}
	if cfg.ModeField() != types.ModeDebug || cfg.OTELExporter() != "otlp-http" || !cfg.TraceCorrelation() {
		t.Errorf("mode = %q, exporter = %q, correlation = %v", cfg.ModeField(), cfg.OTELExporter(), cfg.TraceCorrelation())
	}
	if got := cfg.ExtraFields(); len(got) != 1 || got["fund"] != "evergreen" {
		t.Errorf("ExtraFields() = %v", got)
	}
	conv, err := cfg.Serializer()
	if err != nil || conv == nil {
		t.Errorf("Serializer() = %v, %v", conv, err)
	}
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{Logger: LoggerConfig{Level: tt.level}}
			if got := cfg.LogLevel(); got != tt.want {
				t.Errorf("LogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_ExtraFields(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"region=eu-west-1, fund=evergreen ,broken,=empty", map[string]string{"region": "eu-west-1", "fund": "evergreen"}},
		{"desk=a=b", map[string]string{"desk": "a=b"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg := &Config{Logger: LoggerConfig{ExtraFieldsRaw: tt.raw}}
			got := cfg.ExtraFields()
			if len(got) != len(tt.want) {
				t.Fatalf("ExtraFields() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("ExtraFields()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestConfig_Writers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.log")
	cfg := &Config{Logger: LoggerConfig{Output: "stderr, file:" + path + ",stderr,file:" + path}}
	t.Cleanup(func() { _ = cfg.CloseLogFiles() })

	writers := cfg.Writers()
	if len(writers) != 2 || writers[0] != os.Stderr {
		t.Fatalf("Writers() = %v", writers)
	}
	if _, err := writers[1].Write([]byte("started\n")); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	if again := cfg.Writers(); again[1] != writers[1] {
		t.Error("log file reopened instead of reused")
	}
	if err := cfg.CloseLogFiles(); err != nil {
		t.Fatalf("CloseLogFiles() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "started\n" {
		t.Errorf("log file = %q, %v", data, err)
	}

	missing := &Config{Logger: LoggerConfig{Output: "file:" + filepath.Join(t.TempDir(), "no", "such", "dir.log")}}
	if w := missing.Writers(); len(w) != 1 || w[0] != os.Stdout {
		t.Errorf("unopenable file should fall back to stdout, got %v", w)
	}
}
