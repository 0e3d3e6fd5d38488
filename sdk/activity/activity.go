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
	"context"
	"fmt"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

type Activity interface {
	Name() string
	Version() string
	Execute(ctx context.Context, input []byte) ([]byte, error)
}

// Func adapts a raw byte function into an Activity.
type Func struct {
	ActivityName    string
	ActivityVersion string
	Fn              func(ctx context.Context, input []byte) ([]byte, error)
}

func (f *Func) Name() string    { return f.ActivityName }
func (f *Func) Version() string { return f.ActivityVersion }

func (f *Func) Execute(ctx context.Context, input []byte) ([]byte, error) {
	return f.Fn(ctx, input)
}

type typed[I, O any] struct {
	name    string
	version string
	conv    serde.BinarySerde
	fn      func(context.Context, I) (O, error)
}

// New wraps a typed function. Input that cannot be decoded is a fatal
// failure since retrying the same payload cannot succeed.
func New[I, O any](name, version string, conv serde.BinarySerde, fn func(context.Context, I) (O, error)) Activity {
	return &typed[I, O]{name: name, version: version, conv: conv, fn: fn}
}

func (t *typed[I, O]) Name() string    { return t.name }
func (t *typed[I, O]) Version() string { return t.version }

func (t *typed[I, O]) Execute(ctx context.Context, input []byte) ([]byte, error) {
	var in I
	if err := t.conv.DeserializeBinary(input, &in); err != nil {
		return nil, Fatal(fmt.Errorf("decode %s input: %w", t.name, err))
	}
	out, err := t.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	data, err := t.conv.SerializeBinary(out)
	if err != nil {
		return nil, Fatal(fmt.Errorf("encode %s output: %w", t.name, err))
	}
	return data, nil
}
