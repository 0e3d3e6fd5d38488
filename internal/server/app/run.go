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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/internal/server/config"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/logger"
)

// Options carries command line overrides of the environment configuration.
type Options struct {
	NATSHost    string
	NATSPort    string
	HTTPHost    string
	HTTPPort    string
	RoutingFile string
}

func (o Options) apply(cfg *config.Config) {
	if o.NATSHost != "" {
		cfg.NATS.Host = o.NATSHost
	}
	if o.NATSPort != "" {
		cfg.NATS.Port = o.NATSPort
	}
	if o.NATSHost != "" || o.NATSPort != "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	if o.HTTPHost != "" {
		cfg.Server.Host = o.HTTPHost
	}
	if o.HTTPPort != "" {
		cfg.Server.Port = o.HTTPPort
	}
	if o.RoutingFile != "" {
		cfg.Orchestration.RoutingFile = o.RoutingFile
	}
}

func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	conv, err := cfg.Serializer()
	if err != nil {
		return err
	}

	logger, err := logger.NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Slogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := logger.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down logger provider", "error", err)
		}
		if err := cfg.CloseLogFiles(); err != nil {
			slog.Error("failed to close log files", "error", err)
		}
	}()

	mgr, err := NewManager(ctx, cfg, conv, logger.Slogger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mgr.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	slog.Info("manager shutting down")
	cancel()
	return <-errCh
}
