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
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/config"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/postgres"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/remote"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

// agentDedupeWindow is how long the broker remembers agent task message IDs.
const agentDedupeWindow = 10 * time.Minute

func (m *Manager) ensureStreams(ctx context.Context) error {
	// Saga History Stream
	_, err := m.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      api.SagaHistoryStream,
		Subjects:  []string{api.HistoryFilterSubjectPattern},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure saga history stream: %w", err)
	}

	// Domain change stream, fed by the upstream change-data-capture bridge
	_, err = m.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      api.DomainEventsStream,
		Subjects:  []string{api.DomainEventsFilterSubjectPattern},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure domain events stream: %w", err)
	}

	// Agent task stream, consumed by the agents themselves
	_, err = m.conn.EnsureStream(ctx, jetstream.StreamConfig{
		Name:       api.AgentTasksStream,
		Subjects:   []string{api.AgentTasksFilterSubjectPattern},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: agentDedupeWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure agent tasks stream: %w", err)
	}
	return nil
}

// openStore builds the saga store selected by STORE_DRIVER. The returned
// database handle is nil unless the postgres driver is in use.
func (m *Manager) openStore(ctx context.Context, cfg *config.Config, conv serde.BinarySerde) (store.Store, *sql.DB, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		m.log.Warn("using in-memory saga store; sagas will not survive a restart")
		return store.NewMemory(), nil, nil

	case config.StoreDriverPostgres:
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(cfg.PostgresDSN(), m.log); err != nil {
				return nil, nil, err
			}
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db, conv), db, nil

	default:
		st, err := store.NewJetStream(ctx, m.conn, conv)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}
}

// buildRegistry binds the in-process activities and routes every other
// activity the definitions use to remote workers.
func buildRegistry(conn remote.Requester, conv serde.BinarySerde, version string, defs []saga.Definition, log *slog.Logger) (*activity.Registry, error) {
	reg := activity.NewRegistry()
	for _, act := range sagas.LocalActivities(conv) {
		if err := reg.Register(act); err != nil {
			return nil, err
		}
	}
	if err := remote.Bind(reg, conn, conv, version, sagas.ActivityNames(defs)...); err != nil {
		return nil, err
	}
	log.Info("activities bound", "count", reg.Size(), "names", reg.Names())
	return reg, nil
}
