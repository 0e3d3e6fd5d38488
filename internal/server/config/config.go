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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/types"
)

// Config holds the complete application configuration
type Config struct {
	Service       string              `json:"service_name"  env:"APP_NAME"    envDefault:"evergreen-orchestrator"`
	Version       string              `json:"version"       env:"VERSION"     envDefault:"v0.1.0"`
	Mode          types.Mode          `json:"mode"          env:"MODE"        envDefault:"debug"`
	Serde         string              `json:"serde"         env:"SERDE"       envDefault:"json"`
	NATS          NATSConfig          `json:"nats"          envPrefix:"NATS_"`
	Server        ServerConfig        `json:"server"        envPrefix:"SERVER_"`
	Timeouts      TimeoutConfig       `json:"timeouts"      envPrefix:"TIMEOUTS_"`
	Logger        LoggerConfig        `json:"logger"        envPrefix:"LOG_"`
	Store         StoreConfig         `json:"store"         envPrefix:"STORE_"`
	Postgres      PostgresConfig      `json:"postgres"      envPrefix:"POSTGRES_"`
	Orchestration OrchestrationConfig `json:"orchestration" envPrefix:"ORCHESTRATION_"`
}

type ServerConfig struct {
	Host string `json:"host" env:"HOST" envDefault:"localhost"`
	Port string `json:"port" env:"PORT" envDefault:"8080"`
}

// TimeoutConfig holds timeout-related configuration
type TimeoutConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

func LoadConfig() (*Config, error) {
	cfg := Config{
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "evergreen-orchestrator",
		},
		Timeouts: TimeoutConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    DefaultPostgresMaxOpenConns,
			MaxIdleConns:    DefaultPostgresMaxIdleConns,
			ConnMaxLifetime: DefaultPostgresConnMaxLifetime,
			ConnTimeout:     DefaultPostgresConnTimeout,
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Service == "" {
		return errors.New("service name is required")
	}
	if c.Version == "" {
		return errors.New("version is required")
	}
	if c.Mode != "" {
		if err := c.Mode.Validate(); err != nil {
			return err
		}
	}
	if c.Serde != "" {
		if _, err := serde.New(c.Serde); err != nil {
			return err
		}
	}

	if c.NATS.Host == "" {
		return errors.New("NATS host is required")
	}
	if c.NATS.Port == "" {
		return errors.New("NATS port is required")
	}
	if err := validPort(c.NATS.Port); err != nil {
		return fmt.Errorf("invalid NATS port: %w", err)
	}
	if c.NATS.URL == "" {
		return errors.New("NATS URL is required")
	}
	if c.NATS.MaxReconnects < -1 {
		return errors.New("NATS max reconnects must be >= -1")
	}
	if c.NATS.ReconnectWait <= 0 {
		return errors.New("NATS reconnect wait must be positive")
	}
	if c.NATS.DrainTimeout <= 0 {
		return errors.New("NATS drain timeout must be positive")
	}

	if c.Server.Host == "" {
		return errors.New("server host is required")
	}
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if err := validPort(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port: %w", err)
	}

	if err := c.Logger.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if c.Store.Driver == StoreDriverPostgres {
		if err := c.Postgres.validate(); err != nil {
			return err
		}
	}
	return c.Orchestration.validate()
}

func validPort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

func (c *Config) ServiceName() string {
	return c.Service
}

func (c *Config) GetVersion() string {
	return c.Version
}

// HTTPAddr is the listen address of the HTTP facade.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// Serializer returns the configured payload codec.
func (c *Config) Serializer() (serde.BinarySerde, error) {
	return serde.New(c.Serde)
}
