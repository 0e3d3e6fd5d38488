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

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	serverapp "github.com/DealExMachina/evergreen-dragon-os/internal/server/app"
)

func main() {
	var (
		natsHost    = flag.String("host", "", "NATS server host (overrides NATS_HOST)")
		natsPort    = flag.String("port", "", "NATS server port (overrides NATS_PORT)")
		httpHost    = flag.String("http-host", "", "HTTP listen host (overrides SERVER_HOST)")
		httpPort    = flag.String("http-port", "", "HTTP listen port (overrides SERVER_PORT)")
		routingFile = flag.String("routing", "", "routing and policy file (overrides ORCHESTRATION_ROUTING_FILE)")
	)
	flag.Parse()

	ctx := context.Background()
	if err := serverapp.Run(ctx, serverapp.Options{
		NATSHost:    *natsHost,
		NATSPort:    *natsPort,
		HTTPHost:    *httpHost,
		HTTPPort:    *httpPort,
		RoutingFile: *routingFile,
	}); err != nil {
		slog.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}
