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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

const uniqueViolation = "23505"

var _ Store = (*Postgres)(nil)

// Postgres keeps one row per instance. A partial unique index over running
// rows enforces the (type, business key) reservation and the revision
// column provides the compare-and-set.
type Postgres struct {
	db   *sql.DB
	conv serde.BinarySerde
}

func NewPostgres(db *sql.DB, conv serde.BinarySerde) *Postgres {
	return &Postgres{db: db, conv: conv}
}

func (p *Postgres) Create(ctx context.Context, inst *api.SagaInstance) error {
	doc, err := p.conv.SerializeBinary(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO saga_instances (id, saga_type, business_key, status, document, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7)`,
		inst.ID, string(inst.Type), inst.BusinessKey, string(inst.Status), doc, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "saga_instances_active_key" {
				return &DuplicateError{Key: activeKey(inst), ActiveID: p.activeHolder(ctx, inst)}
			}
			return fmt.Errorf("%w: %s", ErrExists, inst.ID)
		}
		return fmt.Errorf("insert saga %s: %w", inst.ID, err)
	}
	inst.Revision = 1
	return nil
}

func (p *Postgres) activeHolder(ctx context.Context, inst *api.SagaInstance) string {
	var id string
	_ = p.db.QueryRowContext(ctx, `
		SELECT id FROM saga_instances
		WHERE saga_type = $1 AND business_key = $2 AND status = $3`,
		string(inst.Type), inst.BusinessKey, string(api.StatusRunning)).Scan(&id)
	return id
}

func (p *Postgres) Get(ctx context.Context, sagaID string) (*api.SagaInstance, error) {
	var (
		doc []byte
		rev int64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT document, revision FROM saga_instances WHERE id = $1`, sagaID).Scan(&doc, &rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sagaID)
		}
		return nil, fmt.Errorf("select saga %s: %w", sagaID, err)
	}
	return p.decode(sagaID, doc, rev)
}

func (p *Postgres) decode(sagaID string, doc []byte, rev int64) (*api.SagaInstance, error) {
	var inst api.SagaInstance
	if err := p.conv.DeserializeBinary(doc, &inst); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", sagaID, err)
	}
	inst.Revision = uint64(rev)
	return &inst, nil
}

func (p *Postgres) Save(ctx context.Context, inst *api.SagaInstance) error {
	doc, err := p.conv.SerializeBinary(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	var rev int64
	err = p.db.QueryRowContext(ctx, `
		UPDATE saga_instances
		SET status = $1, document = $2, revision = revision + 1, updated_at = $3
		WHERE id = $4 AND revision = $5
		RETURNING revision`,
		string(inst.Status), doc, inst.UpdatedAt, inst.ID, int64(inst.Revision)).Scan(&rev)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update saga %s: %w", inst.ID, err)
		}
		if _, getErr := p.Get(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s at %d", ErrConflict, inst.ID, inst.Revision)
	}
	inst.Revision = uint64(rev)
	return nil
}

func (p *Postgres) ListRunning(ctx context.Context) ([]*api.SagaInstance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document, revision FROM saga_instances
		WHERE status = $1
		ORDER BY created_at`, string(api.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running sagas: %w", err)
	}
	defer rows.Close()

	var out []*api.SagaInstance
	for rows.Next() {
		var (
			id  string
			doc []byte
			rev int64
		)
		if err := rows.Scan(&id, &doc, &rev); err != nil {
			return nil, fmt.Errorf("scan saga row: %w", err)
		}
		inst, err := p.decode(id, doc, rev)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
