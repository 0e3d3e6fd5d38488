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

package command

import (
	"context"
	"testing"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

type fakeScheduler struct {
	payload map[string]any
	signal  []any
	active  string
}

func (f *fakeScheduler) Trigger(_ context.Context, sagaType api.SagaType, payload map[string]any) (string, error) {
	if f.active != "" {
		return "", &saga.DuplicateSagaError{Type: sagaType, BusinessKey: "A1", ActiveID: f.active}
	}
	if !sagaType.Valid() {
		return "", saga.ErrUnknownSagaType
	}
	f.payload = payload
	f.active = "asset-unwind-A1-1"
	return f.active, nil
}

func (f *fakeScheduler) GetWorkflowStatus(_ context.Context, sagaID string) (api.StatusView, error) {
	if sagaID != f.active {
		return api.StatusView{}, saga.ErrUnknownSagaType
	}
	return api.StatusView{SagaID: sagaID, Type: api.AssetUnwind, Status: api.StatusRunning}, nil
}

func (f *fakeScheduler) SignalWorkflow(_ context.Context, sagaID, name string, args ...any) error {
	if name != "setReservePrice" {
		return &saga.UnknownSignalError{SagaID: sagaID, Signal: name}
	}
	f.signal = args
	return nil
}

func TestNewHandler(t *testing.T) {
	// Test with nil values to ensure NewHandler doesn't panic
	handler := NewHandler(nil, nil, nil)

	if handler == nil {
		t.Fatal("NewHandler returned nil")
	}
}

func command(t *testing.T, conv serde.BinarySerde, typ api.SagaCommandType, attrs any) []byte {
	t.Helper()
	data, err := conv.SerializeBinary(attrs)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := conv.SerializeBinary(api.Command{CommandType: typ, Attributes: data})
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestHandle_Commands(t *testing.T) {
	for name, conv := range map[string]serde.BinarySerde{"json": &serde.JsonSerde{}, "msgpack": &serde.MsgpackSerde{}} {
		t.Run(name, func(t *testing.T) {
			sched := &fakeScheduler{}
			h := NewHandler(sched, conv, nil)
			ctx := context.Background()

			start := command(t, conv, api.StartSagaCommand, api.StartSagaAttributes{
				SagaType: api.AssetUnwind,
				Payload:  map[string]any{"assetId": "A1", "reason": "liquidity"},
			})
			var started api.StartSagaReply
			if err := conv.DeserializeBinary(h.Handle(ctx, start), &started); err != nil {
				t.Fatal(err)
			}
			if started.SagaID != "asset-unwind-A1-1" || started.Error != "" || started.Duplicate {
				t.Errorf("start reply = %+v", started)
			}
			if sched.payload["assetId"] != "A1" {
				t.Errorf("payload = %v", sched.payload)
			}

			var dup api.StartSagaReply
			if err := conv.DeserializeBinary(h.Handle(ctx, start), &dup); err != nil {
				t.Fatal(err)
			}
			if !dup.Duplicate || dup.SagaID != "asset-unwind-A1-1" || dup.Error != "" {
				t.Errorf("duplicate reply = %+v", dup)
			}

			var status api.SagaStatusReply
			if err := conv.DeserializeBinary(h.Handle(ctx, command(t, conv, api.SagaStatusCommand, api.SagaStatusAttributes{SagaID: started.SagaID})), &status); err != nil {
				t.Fatal(err)
			}
			if status.Status == nil || status.Status.Status != api.StatusRunning {
				t.Errorf("status reply = %+v", status)
			}

			var signal api.SignalSagaReply
			sig := command(t, conv, api.SignalSagaCommand, api.SignalSagaAttributes{SagaID: started.SagaID, Signal: "setReservePrice", Args: []any{900000}})
			if err := conv.DeserializeBinary(h.Handle(ctx, sig), &signal); err != nil {
				t.Fatal(err)
			}
			if signal.Error != "" || len(sched.signal) != 1 {
				t.Errorf("signal reply = %+v, args = %v", signal, sched.signal)
			}

			sig = command(t, conv, api.SignalSagaCommand, api.SignalSagaAttributes{SagaID: started.SagaID, Signal: "bogus"})
			if err := conv.DeserializeBinary(h.Handle(ctx, sig), &signal); err != nil {
				t.Fatal(err)
			}
			if signal.Error == "" {
				t.Error("unknown signal accepted")
			}
		})
	}
}

func TestHandle_Errors(t *testing.T) {
	conv := &serde.JsonSerde{}
	h := NewHandler(&fakeScheduler{}, conv, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "malformed command", data: []byte("{")},
		{name: "unknown command", data: command(t, conv, api.SagaCommandType("Pause"), struct{}{})},
		{name: "bad attributes", data: []byte(`{"type":"StartSaga","attributes":"bm90LWpzb24="}`)},
		{name: "unknown saga type", data: command(t, conv, api.StartSagaCommand, api.StartSagaAttributes{SagaType: "Payroll"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply api.ErrorReply
			if err := conv.DeserializeBinary(h.Handle(ctx, tt.data), &reply); err != nil {
				t.Fatalf("reply not decodable: %v", err)
			}
			if reply.Error == "" {
				t.Error("reply carries no error")
			}
		})
	}
}
