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

package activity

import (
	"fmt"
	"sort"
	"sync"
)

// Registry binds activity names to implementations. Bindings are made at
// startup; lookups afterwards are read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Activity
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Activity),
	}
}

func (r *Registry) Register(a Activity) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("activity must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[a.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrActivityAlreadyRegistered, a.Name())
	}
	r.entries[a.Name()] = a
	return nil
}

// MustRegister panics on a duplicate binding; meant for wiring code.
func (r *Registry) MustRegister(acts ...Activity) {
	for _, a := range acts {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotRegistered, name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names lists bound activities in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
