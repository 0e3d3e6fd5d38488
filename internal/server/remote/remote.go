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

// Package remote binds activity names to NATS request/reply subjects so
// that activities can be implemented by external workers in any language.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

// Requester is the request/reply half of a NATS connection.
type Requester interface {
	Request(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type Activity struct {
	name    string
	version string
	conn    Requester
	conv    serde.BinarySerde
}

var _ activity.Activity = (*Activity)(nil)

func New(conn Requester, conv serde.BinarySerde, name, version string) *Activity {
	return &Activity{name: name, version: version, conn: conn, conv: conv}
}

func (a *Activity) Name() string    { return a.name }
func (a *Activity) Version() string { return a.version }

// Subject is the subject workers serve the activity on.
func (a *Activity) Subject() string {
	return fmt.Sprintf(api.ActivityInvokeSubjectPattern, a.name)
}

func (a *Activity) Execute(ctx context.Context, input []byte) ([]byte, error) {
	req := api.ActivityRequest{Activity: a.name, Input: input}
	if info, ok := activity.InfoFrom(ctx); ok {
		req.SagaID = info.SagaID
		req.Step = info.Step
		req.Attempt = info.Attempt
		req.IdempotencyKey = info.IdempotencyKey()
	}
	data, err := a.conv.SerializeBinary(req)
	if err != nil {
		return nil, activity.Fatal(fmt.Errorf("encode %s request: %w", a.name, err))
	}

	msg, err := a.conn.Request(ctx, a.Subject(), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, activity.Retryable(fmt.Errorf("no worker serves activity %s", a.name))
		}
		return nil, activity.Retryable(err)
	}

	var reply api.ActivityReply
	if err := a.conv.DeserializeBinary(msg.Data, &reply); err != nil {
		return nil, activity.Retryable(fmt.Errorf("decode %s reply: %w", a.name, err))
	}
	if reply.Error != "" {
		if reply.Fatal {
			return nil, activity.Fatal(errors.New(reply.Error))
		}
		return nil, activity.Retryable(errors.New(reply.Error))
	}
	return reply.Output, nil
}

// Bind registers a remote activity for every name reg does not already
// serve in process.
func Bind(reg *activity.Registry, conn Requester, conv serde.BinarySerde, version string, names ...string) error {
	for _, name := range names {
		if reg.Has(name) {
			continue
		}
		if err := reg.Register(New(conn, conv, name, version)); err != nil {
			return err
		}
	}
	return nil
}
