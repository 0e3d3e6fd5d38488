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

// Package store persists saga instances. Every implementation serializes
// writes per saga ID with a revision check and reserves (type, business key)
// pairs so that only one instance per pair is running at a time.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api"
)

var (
	ErrNotFound  = errors.New("saga not found")
	ErrConflict  = errors.New("saga revision conflict")
	ErrDuplicate = errors.New("saga already active")
	ErrExists    = errors.New("saga id already exists")
)

// DuplicateError carries the ID of the instance holding the reservation.
type DuplicateError struct {
	Key      string
	ActiveID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v: %s held by %s", ErrDuplicate, e.Key, e.ActiveID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

type Store interface {
	// Create stores a new Running instance and reserves its active key.
	// The instance's Revision is set on success.
	Create(ctx context.Context, inst *api.SagaInstance) error

	Get(ctx context.Context, sagaID string) (*api.SagaInstance, error)

	// Save writes inst if its Revision still matches the stored one and
	// updates Revision. Saving a terminal instance releases its reservation.
	Save(ctx context.Context, inst *api.SagaInstance) error

	ListRunning(ctx context.Context) ([]*api.SagaInstance, error)
}

// activeKey encodes a reservation key into characters every backend accepts.
func activeKey(inst *api.SagaInstance) string {
	return string(inst.Type) + "." + base64.RawURLEncoding.EncodeToString([]byte(inst.BusinessKey))
}

func clone(inst *api.SagaInstance) *api.SagaInstance {
	c := *inst
	c.Input = append([]byte(nil), inst.Input...)
	c.Result = append([]byte(nil), inst.Result...)
	c.History = append([]api.StepRecord(nil), inst.History...)
	c.Outcomes = append([]api.StepOutcome(nil), inst.Outcomes...)
	c.Signals = append([]api.SignalRecord(nil), inst.Signals...)
	return &c
}
