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

package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/remote"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
)

type nopConn struct {
	subjects []string
}

func (c *nopConn) QueueSubscribe(subj, _ string, _ nats.MsgHandler) (*nats.Subscription, error) {
	c.subjects = append(c.subjects, subj)
	return nil, errors.New("not connected")
}

// loopback hands remote requests straight to a worker.
type loopback struct {
	w *Worker
}

func (l loopback) Request(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	return &nats.Msg{Subject: subj, Data: l.w.Handle(ctx, data)}, nil
}

type bidRequest struct {
	AssetID string `json:"assetId"`
}

func newWorker(t *testing.T, conv serde.BinarySerde) *Worker {
	t.Helper()
	w, err := NewWorker(&nopConn{}, conv, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = w.Register(
		activity.New("requestBids", "v1", conv, func(ctx context.Context, in bidRequest) (string, error) {
			info, ok := activity.InfoFrom(ctx)
			if !ok {
				return "", errors.New("no attempt info")
			}
			return in.AssetID + "@" + info.IdempotencyKey(), nil
		}),
		activity.New("runAMLCheck", "v1", conv, func(context.Context, string) (bool, error) {
			return false, activity.Fatalf("investor sanctioned")
		}),
		activity.New("fetchMarketData", "v1", conv, func(context.Context, string) (int, error) {
			return 0, errors.New("feed unavailable")
		}),
		activity.New("notifyCommander", "v1", conv, func(context.Context, string) (int, error) {
			panic("boom")
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWorker_Loopback(t *testing.T) {
	for name, conv := range map[string]serde.BinarySerde{"json": &serde.JsonSerde{}, "msgpack": &serde.MsgpackSerde{}} {
		t.Run(name, func(t *testing.T) {
			w := newWorker(t, conv)
			act := remote.New(loopback{w: w}, conv, "requestBids", "v1")

			input, err := conv.SerializeBinary(bidRequest{AssetID: "A1"})
			if err != nil {
				t.Fatal(err)
			}
			ctx := activity.WithInfo(context.Background(), activity.Info{SagaID: "asset-unwind-A1-1", Step: 1, Attempt: 1})
			out, err := act.Execute(ctx, input)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			var got string
			if err := conv.DeserializeBinary(out, &got); err != nil {
				t.Fatal(err)
			}
			if got != "A1@asset-unwind-A1-1/1" {
				t.Errorf("output = %q", got)
			}
		})
	}
}

func TestWorker_Errors(t *testing.T) {
	conv := &serde.JsonSerde{}
	w := newWorker(t, conv)

	tests := []struct {
		name     string
		activity string
		fatal    bool
		msg      string
	}{
		{name: "fatal", activity: "runAMLCheck", fatal: true, msg: "investor sanctioned"},
		{name: "retryable", activity: "fetchMarketData", msg: "feed unavailable"},
		{name: "panic", activity: "notifyCommander", fatal: true, msg: "activity notifyCommander panicked: boom"},
		{name: "unregistered", activity: "sendOffer", fatal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := remote.New(loopback{w: w}, conv, tt.activity, "v1").Execute(context.Background(), []byte(`"x"`))
			if err == nil {
				t.Fatal("expected error")
			}
			if activity.IsFatal(err) != tt.fatal {
				t.Errorf("fatal = %v, want %v", activity.IsFatal(err), tt.fatal)
			}
			if tt.msg != "" && err.Error() != tt.msg {
				t.Errorf("error = %q, want %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestWorker_MalformedRequest(t *testing.T) {
	conv := &serde.JsonSerde{}
	w := newWorker(t, conv)

	var reply api.ActivityReply
	if err := conv.DeserializeBinary(w.Handle(context.Background(), []byte("{")), &reply); err != nil {
		t.Fatal(err)
	}
	if !reply.Fatal || reply.Error == "" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	if _, err := NewWorker(nil, &serde.JsonSerde{}, nil); !errors.Is(err, ErrNoConnection) {
		t.Errorf("NewWorker(nil) = %v", err)
	}

	conn := &nopConn{}
	w, err := NewWorker(conn, &serde.JsonSerde{}, &Options{Queue: "kyc"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run without activities succeeded")
	}

	act := activity.New("verifyIdentity", "v1", &serde.JsonSerde{}, func(context.Context, string) (bool, error) { return true, nil })
	if err := w.Register(act); !errors.Is(err, ErrWorkerStarted) {
		t.Errorf("Register after Run = %v", err)
	}

	w, _ = NewWorker(conn, &serde.JsonSerde{}, nil)
	if err := w.Register(act); err != nil {
		t.Fatal(err)
	}
	var regErr *RegistrationError
	if err := w.Register(act); !errors.As(err, &regErr) || regErr.ActivityName != "verifyIdentity" {
		t.Errorf("duplicate Register = %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run succeeded on a failing connection")
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "activity.verifyIdentity.invoke" {
		t.Errorf("subscribed to %v", conn.subjects)
	}
}
