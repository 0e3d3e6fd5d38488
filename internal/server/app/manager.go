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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/agent"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/config"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/executor"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/handler/command"
	httphandler "github.com/DealExMachina/evergreen-dragon-os/internal/server/handler/http"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/history"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/ingest"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/projection"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/router"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/scheduler"
)

// Manager owns every long-running component of the orchestrator. All
// handles are built here and passed down; nothing is global.
type Manager struct {
	conn       *jetstreamx.Connection
	db         *sql.DB
	engine     *executor.Engine
	router     *router.Router
	ingest     *ingest.Subscriber
	handler    *command.Handler
	projector  *projection.Completions
	httpServer *httphandler.Server
	log        *slog.Logger
}

func NewManager(ctx context.Context, cfg *config.Config, conv serde.BinarySerde, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}

	// Routing problems are fatal before any connection is made.
	table, err := router.LoadTable(cfg.Orchestration.RoutingFile)
	if err != nil {
		return nil, err
	}

	conn, err := jetstreamx.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if !conn.IsConnected() {
		conn.Close()
		return nil, fmt.Errorf("cannot connect to NATS instance")
	}

	m := &Manager{conn: conn, log: log}
	if err := m.build(ctx, cfg, conv, table); err != nil {
		m.Shutdown()
		return nil, err
	}
	return m, nil
}

func (m *Manager) build(ctx context.Context, cfg *config.Config, conv serde.BinarySerde, table *router.Table) error {
	if err := m.ensureStreams(ctx); err != nil {
		return fmt.Errorf("failed to ensure NATS streams: %w", err)
	}

	st, db, err := m.openStore(ctx, cfg, conv)
	if err != nil {
		return fmt.Errorf("failed to open saga store: %w", err)
	}
	m.db = db

	defs := sagas.Definitions()
	reg, err := buildRegistry(m.conn, conv, cfg.GetVersion(), defs, m.log)
	if err != nil {
		return err
	}

	opts := []executor.Option{
		executor.WithLogger(m.log),
		executor.WithPublisher(history.NewJetStream(m.conn, conv)),
	}
	if cfg.Orchestration.Fanout > 0 {
		opts = append(opts, executor.WithFanout(cfg.Orchestration.Fanout))
	}
	for t, p := range table.Policies() {
		opts = append(opts, executor.WithPolicy(t, p))
	}
	m.engine, err = executor.New(st, reg, conv, defs, opts...)
	if err != nil {
		return err
	}

	sched := scheduler.New(m.engine, conv, scheduler.WithLogger(m.log))

	routerOpts := []router.Option{router.WithLogger(m.log)}
	if cfg.Orchestration.DedupeWindow > 0 {
		routerOpts = append(routerOpts, router.WithDedupeWindow(cfg.Orchestration.DedupeWindow))
	}
	m.router, err = router.New(table, sched, agent.NewNATS(m.conn, conv, m.log), routerOpts...)
	if err != nil {
		return err
	}

	m.ingest = ingest.NewSubscriber(m.conn, conv, m.log)
	m.handler = command.NewHandler(sched, conv, m.log)
	m.projector = projection.NewCompletions(m.conn, conv, m.log)
	m.httpServer = httphandler.NewServer(
		cfg.HTTPAddr(),
		httphandler.NewWorkflowHandler(sched, m.log),
		httphandler.NewHealthHandler(m.checks()),
		m.log,
	)
	return nil
}

func (m *Manager) checks() map[string]httphandler.Check {
	checks := map[string]httphandler.Check{
		"nats": func(context.Context) error {
			if !m.conn.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		},
	}
	if m.db != nil {
		checks["postgres"] = m.db.PingContext
	}
	return checks
}

// route feeds one ingested change to the event router.
func (m *Manager) route(ctx context.Context, c ingest.Change) error {
	return m.router.RouteEvent(ctx, router.Event{ID: c.ID, Type: c.RoutingKey(), Payload: c.New})
}

func (m *Manager) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.log.Info("starting saga executor")
		return m.engine.Run(gCtx)
	})

	g.Go(func() error {
		return m.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		m.log.Info("starting command processor")
		return command.RunProcessor(gCtx, m.conn, m.handler)
	})

	g.Go(func() error {
		m.log.Info("starting completion projector")
		return m.projector.Run(gCtx, m.conn)
	})

	g.Go(func() error {
		m.log.Info("subscribing to fund events")
		return m.ingest.SubscribeToEvents(gCtx, m.route)
	})

	g.Go(func() error {
		m.log.Info("subscribing to asset changes")
		return m.ingest.SubscribeToAssets(gCtx, m.route)
	})

	g.Go(func() error {
		m.log.Info("subscribing to fund flows")
		return m.ingest.SubscribeToFlows(gCtx, m.route)
	})

	m.log.Info("manager is running", "components", 7)

	// Wait for all goroutines to complete or context cancellation
	err := g.Wait()

	m.log.Info("initiating graceful shutdown")
	m.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error("manager stopped with error", "error", err)
		return err
	}

	m.log.Info("manager shutdown complete")
	return nil
}

// Shutdown stops the executor and releases the connections. In-flight
// attempts stay open and are resumed by the next process.
func (m *Manager) Shutdown() {
	m.log.Info("shutting down manager components")

	if m.engine != nil {
		m.engine.Close()
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.log.Warn("failed to close database", "error", err)
		}
	}
	// Close NATS connection - this will drain and close all subscriptions
	if m.conn != nil {
		m.log.Info("closing NATS connection")
		m.conn.Close()
	}
}
