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

// Package alerts raises operator alerts for executions that need a human.
// Executions are never forcibly terminated: long-running work is legitimate,
// so an over-age execution is advisory only.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
	"github.com/tidemark-io/conductor/internal/server/status"
)

// Sweeper periodically scans status records and publishes alerts for
// over-age executions and failed compensations.
type Sweeper struct {
	store    *status.Store
	conn     *jetstream.Connection
	serde    serde.BinarySerde
	maxAge   time.Duration
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	alerted map[string]struct{}

	now func() time.Time
}

func NewSweeper(
	store *status.Store,
	conn *jetstream.Connection,
	s serde.BinarySerde,
	maxAge time.Duration,
	schedule string,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		store:    store,
		conn:     conn,
		serde:    s,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		alerted:  make(map[string]struct{}),
		now:      time.Now,
	}
}

// Run sweeps on the configured schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "alert sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("alert schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.logger.InfoContext(ctx, "alert sweeper started", "schedule", s.schedule, "max_age", s.maxAge)
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Sweep scans every status record once.
func (s *Sweeper) Sweep(ctx context.Context) error {
	statuses, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	cutoff := s.now().Add(-s.maxAge)
	for _, st := range statuses {
		if !st.State.Terminal() && !st.StartedAt.IsZero() && st.StartedAt.Before(cutoff) {
			s.alertOnce(ctx, st, api.AlertExecutionOverAge,
				fmt.Sprintf("running since %s, advisory max age %s", st.StartedAt.Format(time.RFC3339), s.maxAge))
		}
		if st.Compensation == api.CompensationStateFailed {
			s.alertOnce(ctx, st, api.AlertCompensationFailure,
				"rollback failed, state needs manual reconciliation: "+st.LastError)
		}
	}
	return nil
}

func (s *Sweeper) alertOnce(ctx context.Context, st api.ExecutionStatus, reason, detail string) {
	key := st.ExecutionID + "/" + reason
	s.mu.Lock()
	if _, done := s.alerted[key]; done {
		s.mu.Unlock()
		return
	}
	s.alerted[key] = struct{}{}
	s.mu.Unlock()

	alert := api.OpsAlert{
		ExecutionID: st.ExecutionID,
		TenantID:    st.TenantID,
		Reason:      reason,
		Detail:      detail,
		Timestamp:   s.now().UTC(),
	}
	data, err := s.serde.SerializeBinary(alert)
	if err != nil {
		s.logger.ErrorContext(ctx, "alert serialization failed", "error", err)
		return
	}
	if err := s.conn.Publish(ctx, api.OpsAlertSubject, data); err != nil {
		s.logger.ErrorContext(ctx, "alert publish failed",
			"execution_id", st.ExecutionID, "reason", reason, "error", err)
		// Unmark so the next sweep retries the publish.
		s.mu.Lock()
		delete(s.alerted, key)
		s.mu.Unlock()
		return
	}

	s.logger.WarnContext(ctx, "operator alert raised",
		"execution_id", st.ExecutionID, "tenant_id", st.TenantID, "reason", reason)
}
