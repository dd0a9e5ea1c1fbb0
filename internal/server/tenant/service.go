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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

// Service answers Resolve and Authorize for the rest of the core.
type Service struct {
	store  AuthStore
	cache  *decisionCache
	logger *slog.Logger

	// highPrivilege holds "<resource>:<action>" pairs that must never be
	// answered from cache. A grant revocation has to take effect on the
	// very next such check.
	highPrivilege map[string]struct{}

	now func() time.Time
}

type ServiceOption func(*Service)

// WithHighPrivilege marks actions that bypass the decision cache.
func WithHighPrivilege(actions []string) ServiceOption {
	return func(s *Service) {
		for _, a := range actions {
			if a != "" {
				s.highPrivilege[a] = struct{}{}
			}
		}
	}
}

func NewService(store AuthStore, decisionTTL time.Duration, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		cache:         newDecisionCache(decisionTTL),
		logger:        logger,
		highPrivilege: make(map[string]struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve fetches the full tenant context for an actor. It always hits the
// store; only decisions are cached, never contexts, so a context in hand is
// as fresh as its ResolvedAt.
func (s *Service) Resolve(ctx context.Context, tenantID, actorID string) (api.TenantContext, error) {
	if tenantID == "" || actorID == "" {
		return api.TenantContext{}, errs.Classification("tenant id and actor id are required")
	}

	grants, err := s.store.FetchGrants(ctx, tenantID, actorID)
	if err != nil {
		if isDenial(err) {
			s.logger.InfoContext(ctx, "tenant resolution denied",
				"tenant_id", tenantID, "actor_id", actorID, "cause", err.Error())
			return api.TenantContext{}, errs.Unauthorized(tenantID, actorID, "", "")
		}
		return api.TenantContext{}, fmt.Errorf("fetch grants for %s/%s: %w", tenantID, actorID, err)
	}

	return api.TenantContext{
		TenantID:    tenantID,
		ActorID:     actorID,
		Roles:       grants.Roles,
		Permissions: grants.Permissions,
		ResolvedAt:  s.now(),
	}, nil
}

// Authorize decides whether an actor may perform action on resource. The
// decision comes from the TTL cache unless the action is high privilege.
// A denial is returned as an AUTHZ_DENIED error, never as a bare bool, so
// the denial metadata travels with it.
func (s *Service) Authorize(ctx context.Context, tenantID, actorID, resource, action string) error {
	if tenantID == "" || actorID == "" {
		return errs.Classification("tenant id and actor id are required")
	}

	if _, high := s.highPrivilege[resource+":"+action]; !high {
		if allowed, ok := s.cache.get(tenantID, actorID, resource, action); ok {
			if allowed {
				return nil
			}
			return errs.Unauthorized(tenantID, actorID, resource, action)
		}
	}

	tctx, err := s.Resolve(ctx, tenantID, actorID)
	if err != nil {
		if errs.Code(err) == errs.CodeAuthzDenied {
			s.cache.put(tenantID, actorID, resource, action, false)
			return errs.Unauthorized(tenantID, actorID, resource, action)
		}
		return err
	}

	allowed := tctx.HasPermission(resource, action)
	s.cache.put(tenantID, actorID, resource, action, allowed)
	if !allowed {
		return errs.Unauthorized(tenantID, actorID, resource, action)
	}
	return nil
}

// Invalidate evicts cached decisions for one actor, or the whole tenant
// when actorID is empty.
func (s *Service) Invalidate(tenantID, actorID string) {
	s.cache.evict(tenantID, actorID)
}

func isDenial(err error) bool {
	return errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrTenantSuspended) ||
		errors.Is(err, ErrActorNotFound)
}
