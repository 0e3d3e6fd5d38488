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
	"time"
)

const (
	StoreDriverMemory    = "memory"
	StoreDriverJetStream = "jetstream"
	StoreDriverPostgres  = "postgres"
)

const (
	DefaultPostgresMaxOpenConns    = 10
	DefaultPostgresMaxIdleConns    = 5
	DefaultPostgresConnMaxLifetime = 30 * time.Minute
	DefaultPostgresConnTimeout     = 5 * time.Second
)

// StoreConfig selects where saga instances are persisted.
type StoreConfig struct {
	Driver string `json:"driver" env:"DRIVER" envDefault:"jetstream"` // memory|jetstream|postgres
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case "", StoreDriverMemory, StoreDriverJetStream, StoreDriverPostgres:
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

type PostgresConfig struct {
	DSN             string        `json:"-"                 env:"DSN"`
	MaxOpenConns    int           `json:"max_open_conns"    env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns"    env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnTimeout     time.Duration `json:"conn_timeout"      env:"CONN_TIMEOUT"`
	Migrate         bool          `json:"migrate"           env:"MIGRATE" envDefault:"true"`
}

func (p PostgresConfig) validate() error {
	if p.DSN == "" {
		return errors.New("postgres DSN is required for the postgres store")
	}
	if p.MaxOpenConns < 1 {
		return errors.New("postgres max open conns must be positive")
	}
	if p.ConnTimeout <= 0 {
		return errors.New("postgres conn timeout must be positive")
	}
	return nil
}

// Implement postgres.Config interface methods
func (c *Config) PostgresDSN() string                    { return c.Postgres.DSN }
func (c *Config) PostgresMaxOpenConns() int              { return c.Postgres.MaxOpenConns }
func (c *Config) PostgresMaxIdleConns() int              { return c.Postgres.MaxIdleConns }
func (c *Config) PostgresConnMaxLifetime() time.Duration { return c.Postgres.ConnMaxLifetime }
func (c *Config) PostgresConnTimeout() time.Duration     { return c.Postgres.ConnTimeout }

// OrchestrationConfig tunes routing and the executor. Zero values fall back
// to the built-in defaults.
type OrchestrationConfig struct {
	RoutingFile  string `json:"routing_file"  env:"ROUTING_FILE"`
	Fanout       int    `json:"fanout"        env:"FANOUT"`
	DedupeWindow int    `json:"dedupe_window" env:"DEDUPE_WINDOW"`
}

func (o OrchestrationConfig) validate() error {
	if o.Fanout < 0 {
		return errors.New("orchestration fanout must not be negative")
	}
	if o.DedupeWindow < 0 {
		return errors.New("orchestration dedupe window must not be negative")
	}
	return nil
}
