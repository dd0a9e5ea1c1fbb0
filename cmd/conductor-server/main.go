// Copyright 2025 the Conductor Authors
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
	"flag"
	"fmt"
	"log/slog"
	"os"

	serverapp "github.com/tidemark-io/conductor/internal/server/app"
	"github.com/tidemark-io/conductor/internal/server/config"
)

func main() {
	var (
		natsHost  = flag.String("host", "", "NATS server host (overrides NATS_HOST)")
		natsPort  = flag.String("port", "", "NATS server port (overrides NATS_PORT)")
		httpPort  = flag.String("http-port", "", "HTTP server port (overrides SERVER_PORT)")
		routes    = flag.String("routes", "", "path to the routing table (overrides GATEWAY_ROUTES_PATH)")
		namespace = flag.String("namespace", "", "stream namespace (overrides NAMESPACE)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *natsHost != "" {
		cfg.NATS.Host = *natsHost
	}
	if *natsPort != "" {
		cfg.NATS.Port = *natsPort
	}
	if *natsHost != "" || *natsPort != "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}
	if *httpPort != "" {
		cfg.Server.Port = *httpPort
	}
	if *routes != "" {
		cfg.Gateway.RoutesPath = *routes
	}
	if *namespace != "" {
		cfg.Namespace = *namespace
	}

	plans, adapters, err := builtins()
	if err != nil {
		slog.Error("register builtins", "error", err)
		os.Exit(1)
	}

	if err := serverapp.Run(serverapp.Options{
		Config:   cfg,
		Plans:    plans,
		Adapters: adapters,
	}); err != nil {
		slog.Error("manager exited with error", "error", err)
		os.Exit(1)
	}
}
