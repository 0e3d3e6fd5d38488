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
	"fmt"
	"sort"
	"sync"

	"github.com/DealExMachina/evergreen-dragon-os/api"
)

var _ Store = (*Memory)(nil)

// Memory keeps instances in process. It backs tests and single-node
// development runs; nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	instances map[string]*api.SagaInstance
	active    map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]*api.SagaInstance),
		active:    make(map[string]string),
	}
}

func (m *Memory) Create(ctx context.Context, inst *api.SagaInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := activeKey(inst)
	if holder, ok := m.active[key]; ok {
		if cur, ok := m.instances[holder]; ok && !cur.Status.Terminal() {
			return &DuplicateError{Key: key, ActiveID: holder}
		}
	}
	if _, ok := m.instances[inst.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, inst.ID)
	}

	inst.Revision = 1
	m.instances[inst.ID] = clone(inst)
	m.active[key] = inst.ID
	return nil
}

func (m *Memory) Get(ctx context.Context, sagaID string) (*api.SagaInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[sagaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sagaID)
	}
	return clone(inst), nil
}

func (m *Memory) Save(ctx context.Context, inst *api.SagaInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, inst.ID)
	}
	if cur.Revision != inst.Revision {
		return fmt.Errorf("%w: %s at %d, have %d", ErrConflict, inst.ID, cur.Revision, inst.Revision)
	}

	inst.Revision++
	m.instances[inst.ID] = clone(inst)

	if inst.Status.Terminal() {
		key := activeKey(inst)
		if m.active[key] == inst.ID {
			delete(m.active, key)
		}
	}
	return nil
}

func (m *Memory) ListRunning(ctx context.Context) ([]*api.SagaInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*api.SagaInstance
	for _, inst := range m.instances {
		if inst.Status == api.StatusRunning {
			out = append(out, clone(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
