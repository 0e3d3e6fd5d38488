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

package remote

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

var conv = &serde.JsonSerde{}

type fakeConn struct {
	subject string
	req     api.ActivityRequest
	reply   api.ActivityReply
	err     error
}

func (f *fakeConn) Request(_ context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := conv.DeserializeBinary(data, &f.req); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	out, err := conv.SerializeBinary(f.reply)
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subj, Data: out}, nil
}

func TestActivity_Execute(t *testing.T) {
	conn := &fakeConn{reply: api.ActivityReply{Output: []byte(`"ok"`)}}
	act := New(conn, conv, "requestBids", "v2")

	ctx := activity.WithInfo(context.Background(), activity.Info{SagaID: "asset-unwind-A1-1", Step: 0, Attempt: 2})
	out, err := act.Execute(ctx, []byte(`{"assetId":"A1"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `"ok"` {
		t.Errorf("output = %s", out)
	}
	if conn.subject != "activity.requestBids.invoke" {
		t.Errorf("subject = %s", conn.subject)
	}
	if conn.req.IdempotencyKey != "asset-unwind-A1-1/0" || conn.req.Attempt != 2 || string(conn.req.Input) != `{"assetId":"A1"}` {
		t.Errorf("request = %+v", conn.req)
	}
	if act.Version() != "v2" {
		t.Errorf("version = %s", act.Version())
	}
}

func TestActivity_ErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		conn  *fakeConn
		fatal bool
		msg   string
	}{
		{name: "fatal reply", conn: &fakeConn{reply: api.ActivityReply{Error: "sanctioned", Fatal: true}}, fatal: true, msg: "sanctioned"},
		{name: "retryable reply", conn: &fakeConn{reply: api.ActivityReply{Error: "busy"}}, msg: "busy"},
		{name: "no responders", conn: &fakeConn{err: nats.ErrNoResponders}, msg: "no worker serves activity runAMLCheck"},
		{name: "timeout", conn: &fakeConn{err: nats.ErrTimeout}, msg: nats.ErrTimeout.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.conn, conv, "runAMLCheck", "v1").Execute(context.Background(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if activity.IsFatal(err) != tt.fatal {
				t.Errorf("fatal = %v, want %v", activity.IsFatal(err), tt.fatal)
			}
			if err.Error() != tt.msg {
				t.Errorf("error = %q, want %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestBind(t *testing.T) {
	reg := activity.NewRegistry()
	local := activity.New("aggregateResults", "1", conv, func(context.Context, int) (int, error) { return 0, nil })
	reg.MustRegister(local)

	if err := Bind(reg, &fakeConn{}, conv, "v1", "aggregateResults", "runScenarios", "notifyCommander"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, err := reg.Get("aggregateResults")
	if err != nil || got != local {
		t.Errorf("local activity replaced: %v", err)
	}
	remoteAct, err := reg.Get("runScenarios")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := remoteAct.(*Activity); !ok {
		t.Errorf("runScenarios bound to %T", remoteAct)
	}
	if !reg.Has("notifyCommander") {
		t.Error("notifyCommander not bound")
	}
}
