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

// Package worker serves saga activities to the orchestrator from another
// process.
//
// The orchestrator dispatches every activity it does not run in process as
// a NATS request on activity.<name>.invoke. A Worker subscribes to those
// subjects for the activities registered with it, runs them, and replies
// with the output or the classified error.
//
// # Creating a Worker
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	nc, err := cfg.Connect()
//	if err != nil {
//		log.Fatal(err)
//	}
//	conv, _ := cfg.Serializer()
//
//	w, err := worker.NewWorker(nc, conv, &worker.Options{Logger: slog.Default()})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Registering Activities
//
// Activities are typed functions wrapped with activity.New. Return
// activity.Fatal for failures a retry cannot fix; anything else is retried
// under the saga's policy.
//
//	err = w.Register(activity.New("requestBids", "v1", conv,
//		func(ctx context.Context, in BidRequest) ([]Bid, error) {
//			info, _ := activity.InfoFrom(ctx)
//			return market.RequestBids(ctx, in, info.IdempotencyKey())
//		}))
//
// # Running
//
// Run blocks until the context is cancelled. Workers share a queue group,
// so several instances split the load of each activity.
//
//	if err := w.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package worker
