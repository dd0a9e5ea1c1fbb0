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

// Package postgres backs the tenant auth store with a PostgreSQL database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/tidemark-io/conductor/internal/server/tenant"
)

// Store reads tenants, membership and grants from Postgres. It caches
// nothing; caching is the tenant service's business.
type Store struct {
	pool *pgxpool.Pool
}

var _ tenant.AuthStore = (*Store)(nil)

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect auth store: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) FetchGrants(ctx context.Context, tenantID, actorID string) (tenant.Grants, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT "status" FROM "tenant" WHERE "id" = $1`,
		tenantID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Grants{}, tenant.ErrTenantNotFound
	}
	if err != nil {
		return tenant.Grants{}, fmt.Errorf("query tenant %s: %w", tenantID, err)
	}
	if status != "active" {
		return tenant.Grants{}, tenant.ErrTenantSuspended
	}

	var member bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM "tenant_actor" WHERE "tenant_id" = $1 AND "actor_id" = $2
		)`,
		tenantID, actorID,
	).Scan(&member)
	if err != nil {
		return tenant.Grants{}, fmt.Errorf("query membership %s/%s: %w", tenantID, actorID, err)
	}
	if !member {
		return tenant.Grants{}, tenant.ErrActorNotFound
	}

	g := tenant.Grants{}

	rows, err := s.pool.Query(ctx,
		`SELECT "r"."name" FROM "actor_role" "ar"
		 JOIN "role" "r" ON "r"."id" = "ar"."role_id"
		 WHERE "ar"."tenant_id" = $1 AND "ar"."actor_id" = $2
		 ORDER BY "r"."name"`,
		tenantID, actorID,
	)
	if err != nil {
		return tenant.Grants{}, fmt.Errorf("query roles %s/%s: %w", tenantID, actorID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return tenant.Grants{}, err
		}
		g.Roles = append(g.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return tenant.Grants{}, err
	}

	permRows, err := s.pool.Query(ctx,
		`SELECT DISTINCT "p"."resource" || ':' || "p"."action"
		 FROM "actor_role" "ar"
		 JOIN "role_permission" "rp" ON "rp"."role_id" = "ar"."role_id"
		 JOIN "permission" "p" ON "p"."id" = "rp"."permission_id"
		 WHERE "ar"."tenant_id" = $1 AND "ar"."actor_id" = $2
		 ORDER BY 1`,
		tenantID, actorID,
	)
	if err != nil {
		return tenant.Grants{}, fmt.Errorf("query permissions %s/%s: %w", tenantID, actorID, err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var perm string
		if err := permRows.Scan(&perm); err != nil {
			return tenant.Grants{}, err
		}
		g.Permissions = append(g.Permissions, perm)
	}
	if err := permRows.Err(); err != nil {
		return tenant.Grants{}, err
	}

	return g, nil
}
