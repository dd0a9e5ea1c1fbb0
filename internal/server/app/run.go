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

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tidemark-io/conductor/internal/server/config"
	"github.com/tidemark-io/conductor/internal/server/logger"
)

// Run loads configuration, builds the manager and serves until SIGINT or
// SIGTERM. The binary contributes plans and adapters through opts; config
// and logger fields of opts are filled in here.
func Run(opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		opts.Config = cfg
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Logger == nil {
		lg, err := logger.NewLogger(ctx, cfg)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer lg.Shutdown(ctx)
		opts.Logger = lg.Slogger
	}

	manager, err := NewManager(ctx, opts)
	if err != nil {
		return err
	}
	return manager.Run(ctx)
}
