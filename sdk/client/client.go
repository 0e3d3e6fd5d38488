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

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

// DefaultTimeout bounds a command round trip when the context has no deadline.
const DefaultTimeout = 10 * time.Second

// Requester is the request/reply half of a NATS connection.
type Requester interface {
	Request(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Conn adapts a *nats.Conn to Requester.
func Conn(nc *nats.Conn) Requester {
	if nc == nil {
		return nil
	}
	return natsRequester{nc: nc}
}

type natsRequester struct {
	nc *nats.Conn
}

func (r natsRequester) Request(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	return r.nc.RequestWithContext(ctx, subj, data)
}

// Options contains configuration for creating a new Client.
type Options struct {
	Conn    Requester
	Serde   serde.BinarySerde
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client starts, inspects and signals sagas on a running orchestrator.
type Client struct {
	conn    Requester
	conv    serde.BinarySerde
	timeout time.Duration
	log     *slog.Logger
}

// NewClient creates a new Client with the provided Options.
//
// Serde must match the orchestrator's SERDE setting and defaults to JSON.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil || opts.Conn == nil {
		return nil, ErrNoConnection
	}
	c := &Client{
		conn:    opts.Conn,
		conv:    opts.Serde,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
	if c.conv == nil {
		c.conv = &serde.JsonSerde{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "client")
	return c, nil
}

// StartSaga triggers a saga and returns its ID. When a saga of the same type
// is already running for the payload's business key, StartSaga returns the
// active saga's ID together with ErrSagaAlreadyRunning.
func (c *Client) StartSaga(ctx context.Context, sagaType api.SagaType, payload map[string]any) (string, error) {
	var reply api.StartSagaReply
	err := c.call(ctx, api.CommandRequestStart, api.StartSagaCommand,
		api.StartSagaAttributes{SagaType: sagaType, Payload: payload}, &reply)
	if err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", &CommandError{Command: api.StartSagaCommand, Message: reply.Error}
	}
	if reply.Duplicate {
		c.log.Debug("saga already running", "saga_type", sagaType, "saga_id", reply.SagaID)
		return reply.SagaID, ErrSagaAlreadyRunning
	}
	return reply.SagaID, nil
}

// Status returns the current view of a saga.
func (c *Client) Status(ctx context.Context, sagaID string) (api.StatusView, error) {
	var reply api.SagaStatusReply
	if err := c.call(ctx, api.CommandRequestStatus, api.SagaStatusCommand,
		api.SagaStatusAttributes{SagaID: sagaID}, &reply); err != nil {
		return api.StatusView{}, err
	}
	if reply.Error != "" {
		return api.StatusView{}, &CommandError{Command: api.SagaStatusCommand, SagaID: sagaID, Message: reply.Error}
	}
	if reply.Status == nil {
		return api.StatusView{}, &CommandError{Command: api.SagaStatusCommand, SagaID: sagaID, Message: "empty status reply"}
	}
	return *reply.Status, nil
}

// Signal delivers a named signal to a running saga.
func (c *Client) Signal(ctx context.Context, sagaID, name string, args ...any) error {
	var reply api.SignalSagaReply
	if err := c.call(ctx, api.CommandRequestSignal, api.SignalSagaCommand,
		api.SignalSagaAttributes{SagaID: sagaID, Signal: name, Args: args}, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return &CommandError{Command: api.SignalSagaCommand, SagaID: sagaID, Message: reply.Error}
	}
	return nil
}

func (c *Client) call(ctx context.Context, subj string, typ api.SagaCommandType, attrs, reply any) error {
	data, err := c.conv.SerializeBinary(attrs)
	if err != nil {
		return fmt.Errorf("failed to serialize %s attributes: %w", typ, err)
	}
	cmd, err := c.conv.SerializeBinary(api.Command{CommandType: typ, Attributes: data})
	if err != nil {
		return fmt.Errorf("failed to serialize %s command: %w", typ, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.Request(ctx, subj, cmd)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return fmt.Errorf("%w: %s", ErrTimeout, typ)
		case errors.Is(err, nats.ErrNoResponders):
			return fmt.Errorf("%w: no orchestrator answers %s", ErrNoConnection, subj)
		}
		return fmt.Errorf("%s request: %w", typ, err)
	}

	// A command the orchestrator could not decode is answered with an
	// ErrorReply, which decodes into every reply type through its error field.
	if err := c.conv.DeserializeBinary(msg.Data, reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", typ, err)
	}
	return nil
}
