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

// Package config loads the connection settings shared by the saga client
// and the activity worker.
package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

const (
	DefaultNATSHost = "localhost"
	DefaultNATSPort = "4222"

	DefaultRequestTimeout = 10 * time.Second
	DefaultDrainTimeout   = 30 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultPingInterval   = 2 * time.Minute

	DefaultMaxReconnects = -1 // reconnect forever
	DefaultMaxPingsOut   = 2
)

// NATSConfig holds NATS-specific configuration knobs for the SDK.
type NATSConfig struct {
	URL           string        `json:"url"             env:"URL"`
	Host          string        `json:"host"            env:"HOST"`
	Port          string        `json:"port"            env:"PORT"`
	MaxReconnects int           `json:"max_reconnects"  env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait"  env:"RECONNECT_WAIT"`
	DrainTimeout  time.Duration `json:"drain_timeout"   env:"DRAIN_TIMEOUT"`
	PingInterval  time.Duration `json:"ping_interval"   env:"PING_INTERVAL"`
	MaxPingsOut   int           `json:"max_pings_out"   env:"MAX_PINGS_OUT"`
	ClientName    string        `json:"client_name"     env:"CLIENT_NAME"`
}

// TimeoutConfig encapsulates SDK timeout values.
type TimeoutConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// Config is the public SDK configuration users can construct or load from env.
type Config struct {
	// Serde must match the orchestrator's SERDE setting.
	Serde    string        `json:"serde"    env:"SERDE" envDefault:"json"`
	NATS     NATSConfig    `json:"nats"     envPrefix:"NATS_"`
	Timeouts TimeoutConfig `json:"timeouts" envPrefix:"TIMEOUTS_"`
}

// Load loads configuration from environment variables applying defaults.
func Load() (*Config, error) {
	cfg := Config{
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "evergreen-sdk",
		},
		Timeouts: TimeoutConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	return &cfg, nil
}

// Serializer returns the payload codec named by Serde.
func (c *Config) Serializer() (serde.BinarySerde, error) {
	return serde.New(c.Serde)
}

// Options are the connection options derived from c.
func (c *Config) Options() []nats.Option {
	return []nats.Option{
		nats.Name(c.NATS.ClientName),
		nats.MaxReconnects(c.NATS.MaxReconnects),
		nats.ReconnectWait(c.NATS.ReconnectWait),
		nats.DrainTimeout(c.NATS.DrainTimeout),
		nats.PingInterval(c.NATS.PingInterval),
		nats.MaxPingsOutstanding(c.NATS.MaxPingsOut),
	}
}

// Connect dials the configured NATS endpoint.
func (c *Config) Connect() (*nats.Conn, error) {
	nc, err := nats.Connect(c.NATS.URL, c.Options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", c.NATS.URL, err)
	}
	return nc, nil
}
