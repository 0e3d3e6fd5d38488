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

// Package client drives sagas on a running orchestrator over NATS.
//
// Commands travel as request/reply on command.request.start,
// command.request.status and command.request.signal. They use the same
// serializer the orchestrator is configured with.
//
//	nc, err := nats.Connect(nats.DefaultURL)
//	if err != nil {
//		log.Fatal(err)
//	}
//	c, err := client.NewClient(&client.Options{Conn: client.Conn(nc)})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id, err := c.StartSaga(ctx, api.AssetUnwind, map[string]any{"assetId": "A1", "reason": "liquidity"})
//	if errors.Is(err, client.ErrSagaAlreadyRunning) {
//		log.Printf("already unwinding as %s", id)
//	}
//
//	if err := c.Signal(ctx, id, "setReservePrice", 900000); err != nil {
//		log.Fatal(err)
//	}
package client
