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

// Package tenant resolves tenant contexts and answers permission checks.
// Decisions are cached with a TTL and evicted by invalidation events, so a
// revoked permission stops passing checks within the staleness bound even
// if the event is lost.
package tenant

import (
	"context"
	"errors"
	"sync"
)

// Sentinel store errors. All of them result in a denied decision; they are
// separated so logs can tell a missing tenant from a suspended one.
var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantSuspended = errors.New("tenant suspended")
	ErrActorNotFound   = errors.New("actor not found in tenant")
)

// Grants is the raw role and permission set of one actor within one tenant.
// Permissions use the "<resource>:<action>" form, with "<resource>:*" and
// "*" wildcards.
type Grants struct {
	Roles       []string
	Permissions []string
}

// AuthStore is the system of record for tenants, actors and grants.
type AuthStore interface {
	// FetchGrants returns the grants of an actor within a tenant, or one
	// of the sentinel errors above.
	FetchGrants(ctx context.Context, tenantID, actorID string) (Grants, error)
}

// MemoryStore is an in-process AuthStore for tests and single-node setups.
type MemoryStore struct {
	mu        sync.RWMutex
	suspended map[string]bool
	grants    map[string]map[string]Grants // tenant -> actor -> grants
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		suspended: make(map[string]bool),
		grants:    make(map[string]map[string]Grants),
	}
}

func (m *MemoryStore) AddTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[tenantID]; !ok {
		m.grants[tenantID] = make(map[string]Grants)
	}
}

func (m *MemoryStore) SetSuspended(tenantID string, suspended bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended[tenantID] = suspended
}

func (m *MemoryStore) SetGrants(tenantID, actorID string, g Grants) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[tenantID]; !ok {
		m.grants[tenantID] = make(map[string]Grants)
	}
	m.grants[tenantID][actorID] = g
}

func (m *MemoryStore) FetchGrants(_ context.Context, tenantID, actorID string) (Grants, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actors, ok := m.grants[tenantID]
	if !ok {
		return Grants{}, ErrTenantNotFound
	}
	if m.suspended[tenantID] {
		return Grants{}, ErrTenantSuspended
	}
	g, ok := actors[actorID]
	if !ok {
		return Grants{}, ErrActorNotFound
	}
	return g, nil
}
