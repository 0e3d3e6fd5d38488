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
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	jetstreamx "github.com/DealExMachina/evergreen-dragon-os/internal/server/infra/jetstream"
)

var _ Store = (*JetStream)(nil)

// JetStream keeps instances in a KV bucket keyed by saga ID and
// reservations in a second bucket keyed by (type, business key). KV
// revisions provide the per-saga compare-and-set.
type JetStream struct {
	instances jetstream.KeyValue
	active    jetstream.KeyValue
	conv      serde.BinarySerde
}

func NewJetStream(ctx context.Context, conn *jetstreamx.Connection, conv serde.BinarySerde) (*JetStream, error) {
	instances, err := conn.EnsureKV(ctx, jetstream.KeyValueConfig{
		Bucket:      api.SagaInstanceBucket,
		Description: "saga instances by id",
		History:     5,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure instance bucket: %w", err)
	}

	active, err := conn.EnsureKV(ctx, jetstream.KeyValueConfig{
		Bucket:      api.SagaActiveBucket,
		Description: "running saga reservations by type and business key",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure active bucket: %w", err)
	}

	return &JetStream{instances: instances, active: active, conv: conv}, nil
}

func (s *JetStream) Create(ctx context.Context, inst *api.SagaInstance) error {
	key := activeKey(inst)
	if err := s.reserve(ctx, key, inst.ID); err != nil {
		return err
	}

	data, err := s.conv.SerializeBinary(inst)
	if err != nil {
		s.release(ctx, key, inst.ID)
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	rev, err := s.instances.Create(ctx, inst.ID, data)
	if err != nil {
		s.release(ctx, key, inst.ID)
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", ErrExists, inst.ID)
		}
		return fmt.Errorf("create saga %s: %w", inst.ID, err)
	}
	inst.Revision = rev
	return nil
}

// reserve claims key for sagaID. A reservation left behind by a terminal
// instance is taken over.
func (s *JetStream) reserve(ctx context.Context, key, sagaID string) error {
	_, err := s.active.Create(ctx, key, []byte(sagaID))
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("reserve %s: %w", key, err)
	}

	entry, err := s.active.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read reservation %s: %w", key, err)
	}
	holder := string(entry.Value())

	cur, err := s.Get(ctx, holder)
	switch {
	case err == nil && !cur.Status.Terminal():
		return &DuplicateError{Key: key, ActiveID: holder}
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	if _, err := s.active.Update(ctx, key, []byte(sagaID), entry.Revision()); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			// Somebody else took over the stale reservation first.
			return &DuplicateError{Key: key}
		}
		return fmt.Errorf("take over reservation %s: %w", key, err)
	}
	return nil
}

func (s *JetStream) release(ctx context.Context, key, sagaID string) {
	entry, err := s.active.Get(ctx, key)
	if err != nil || string(entry.Value()) != sagaID {
		return
	}
	_ = s.active.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
}

func (s *JetStream) Get(ctx context.Context, sagaID string) (*api.SagaInstance, error) {
	entry, err := s.instances.Get(ctx, sagaID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sagaID)
		}
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}

	var inst api.SagaInstance
	if err := s.conv.DeserializeBinary(entry.Value(), &inst); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", sagaID, err)
	}
	inst.Revision = entry.Revision()
	return &inst, nil
}

func (s *JetStream) Save(ctx context.Context, inst *api.SagaInstance) error {
	data, err := s.conv.SerializeBinary(inst)
	if err != nil {
		return fmt.Errorf("encode saga %s: %w", inst.ID, err)
	}

	rev, err := s.instances.Update(ctx, inst.ID, data, inst.Revision)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s at %d", ErrConflict, inst.ID, inst.Revision)
		}
		return fmt.Errorf("save saga %s: %w", inst.ID, err)
	}
	inst.Revision = rev

	if inst.Status.Terminal() {
		s.release(ctx, activeKey(inst), inst.ID)
	}
	return nil
}

// ListRunning walks the reservation bucket, which only ever points at
// instances that were running when reserved.
func (s *JetStream) ListRunning(ctx context.Context) ([]*api.SagaInstance, error) {
	lister, err := s.active.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer lister.Stop()

	var out []*api.SagaInstance
	for key := range lister.Keys() {
		entry, err := s.active.Get(ctx, key)
		if err != nil {
			continue
		}
		inst, err := s.Get(ctx, string(entry.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if inst.Status == api.StatusRunning {
			out = append(out, inst)
		}
	}
	return out, nil
}
