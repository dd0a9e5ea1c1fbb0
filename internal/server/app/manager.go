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

// Package app assembles the orchestration core: one process carrying the
// gateway, the saga workers, the status projector and the alert sweeper,
// all sharing one NATS connection.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/adapter"
	"github.com/tidemark-io/conductor/internal/server/aggregate"
	"github.com/tidemark-io/conductor/internal/server/alerts"
	"github.com/tidemark-io/conductor/internal/server/classify"
	"github.com/tidemark-io/conductor/internal/server/config"
	"github.com/tidemark-io/conductor/internal/server/dispatch"
	"github.com/tidemark-io/conductor/internal/server/gateway"
	"github.com/tidemark-io/conductor/internal/server/history"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
	"github.com/tidemark-io/conductor/internal/server/saga"
	"github.com/tidemark-io/conductor/internal/server/status"
	"github.com/tidemark-io/conductor/internal/server/tenant"
	"github.com/tidemark-io/conductor/internal/server/tenant/postgres"
)

// Options carries what the binary contributes: plans and adapters.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Plans    *saga.PlanRegistry
	Adapters *adapter.Registry
	// AuthStore overrides the configured authorization store. Nil selects
	// postgres when a DSN is configured, the in-memory store otherwise.
	AuthStore tenant.AuthStore
}

// Manager owns the process lifecycle of every component.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger
	conn   *jetstream.Connection
	names  api.Names

	classifier *classify.Classifier
	tenants    *tenant.Service
	worker     *saga.Worker
	projector  *status.Projector
	gateway    *gateway.Server
	sweeper    *alerts.Sweeper
	cache      *aggregate.Cache

	serde    serde.BinarySerde
	pgClose  func()
	teardown []func()
}

func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	cfg := opts.Config
	logger := opts.Logger

	if err := api.ValidateNamespace(cfg.Namespace); err != nil {
		return nil, err
	}
	names := api.Names{Namespace: cfg.Namespace}

	conn, err := jetstream.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		names:  names,
		serde:  &serde.JsonSerde{},
	}

	if err := m.assemble(ctx, opts); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) assemble(ctx context.Context, opts Options) error {
	cfg := m.cfg

	if err := bootstrap(ctx, m.conn, m.names); err != nil {
		return err
	}

	store := opts.AuthStore
	if store == nil {
		if cfg.Authz.PostgresDSN != "" {
			pg, err := postgres.New(ctx, cfg.Authz.PostgresDSN)
			if err != nil {
				return err
			}
			m.pgClose = pg.Close
			store = pg
		} else {
			m.logger.WarnContext(ctx, "using in-memory authorization store")
			store = tenant.NewMemoryStore()
		}
	}

	m.tenants = tenant.NewService(store, cfg.Authz.DecisionTTL, m.logger,
		tenant.WithHighPrivilege(cfg.Authz.HighPrivilegeActions))

	classifier, err := classify.NewClassifier(cfg.Gateway.RoutesPath, m.logger)
	if err != nil {
		return err
	}
	m.classifier = classifier

	log := history.NewLog(m.conn, m.serde, m.names, m.logger)
	journal := adapter.NewJournal(m.conn, m.serde, m.names.Bucket(api.ExecutionEffectsBucket))
	statusStore := status.NewStore(m.conn, m.serde, m.names.Bucket(api.ExecutionStatusBucket))

	cancels := &saga.KVCancelFlags{Conn: m.conn, Bucket: m.names.Bucket(api.CancelRequestBucket)}
	inputs := &saga.KVInputs{Conn: m.conn, Serde: m.serde, Bucket: m.names.Bucket(api.ExecutionInputBucket)}

	engine := saga.NewEngine(opts.Plans, opts.Adapters, log, journal, m.tenants, cancels, m.logger)
	m.worker = saga.NewWorker(m.conn, m.serde, m.names, engine, inputs,
		cfg.Saga.Workers, cfg.Saga.AckWait, m.logger)

	m.projector = status.NewProjector(m.conn, m.serde, m.names, statusStore, m.logger)

	dispatcher := dispatch.New(m.conn, m.serde, m.names, log, opts.Plans, statusStore, m.logger)
	canceler := status.NewCanceler(m.conn, statusStore, m.names.Bucket(api.CancelRequestBucket), m.logger)

	m.cache = aggregate.NewCache(m.serde, cfg.Aggregate.DefaultTTL, m.logger)

	m.gateway = gateway.NewServer(gateway.Options{
		Addr:       net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		JWTSecret:  []byte(cfg.Gateway.JWTSecret),
		Classifier: classifier,
		Adapters:   opts.Adapters,
		Authz:      m.tenants,
		Dispatcher: dispatcher,
		Statuses:   statusStore,
		Canceler:   canceler,
		History:    log,
		Ready:      m.conn.IsConnected,
		Logger:     m.logger,
	})

	m.sweeper = alerts.NewSweeper(statusStore, m.conn, m.serde,
		cfg.Alerts.MaxExecutionAge, cfg.Alerts.SweepSchedule, m.logger)

	authzSub, err := tenant.SubscribeInvalidations(m.conn, m.serde, m.tenants, m.logger)
	if err != nil {
		return fmt.Errorf("subscribe permission invalidations: %w", err)
	}
	m.teardown = append(m.teardown, func() { _ = authzSub.Unsubscribe() })

	cacheSub, err := aggregate.SubscribeInvalidations(m.conn, m.serde, m.cache, m.logger)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidations: %w", err)
	}
	m.teardown = append(m.teardown, func() { _ = cacheSub.Unsubscribe() })

	return nil
}

// Aggregations exposes the read-side cache to binaries that register
// aggregation endpoints.
func (m *Manager) Aggregations() *aggregate.Cache {
	return m.cache
}

// Run drives all components until ctx is done or one of them fails.
func (m *Manager) Run(ctx context.Context) error {
	defer m.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.worker.Run(gctx) })
	g.Go(func() error { return m.projector.Run(gctx) })
	g.Go(func() error { return m.gateway.Run(gctx) })
	g.Go(func() error { return m.sweeper.Run(gctx) })
	if m.cfg.Gateway.WatchRoutes {
		g.Go(func() error { return m.classifier.Watch(gctx) })
	}

	m.logger.InfoContext(ctx, "conductor started",
		"service", m.cfg.Service,
		"version", m.cfg.Version,
		"mode", m.cfg.Mode,
		"namespace", m.cfg.Namespace,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases subscriptions and connections. Safe to call twice.
func (m *Manager) Close() {
	for _, fn := range m.teardown {
		fn()
	}
	m.teardown = nil
	if m.pgClose != nil {
		m.pgClose()
		m.pgClose = nil
	}
	if m.conn != nil {
		m.conn.Close()
	}
}
