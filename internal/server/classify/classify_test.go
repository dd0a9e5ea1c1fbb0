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

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

const testRoutes = `
rules:
  - method: GET
    path: /tenants/:id
    operation: get_tenant
    kind: simple
    resource: tenant
    action: read
    adapter: tenant_directory
  - method: POST
    path: /tenants
    operation: create_tenant
    kind: complex
    resource: tenant
    action: create
  - method: POST
    path: /tenants/:id/migrate
    operation: migrate_resources
    kind: complex
    resource: resource
    action: migrate
  - method: GET
    path: /tenants/current
    operation: get_current_tenant
    kind: simple
    resource: tenant
    action: read
    adapter: tenant_directory
`

func mustTable(t *testing.T) *Table {
	t.Helper()
	table, err := Parse([]byte(testRoutes))
	require.NoError(t, err)
	return table
}

func req(method, path string) api.OperationRequest {
	return api.OperationRequest{
		Method:   method,
		Path:     path,
		TenantID: "acme",
		ActorID:  "alice",
	}
}

func TestClassify(t *testing.T) {
	table := mustTable(t)

	t.Run("simple route", func(t *testing.T) {
		d, err := table.Classify(req("GET", "/tenants/42"))
		require.NoError(t, err)
		assert.Equal(t, KindSimple, d.Kind)
		assert.Equal(t, "get_tenant", d.Operation)
		assert.Equal(t, "tenant_directory", d.Adapter)
		assert.Equal(t, "42", d.PathParams["id"])
	})

	t.Run("complex route requires idempotency key", func(t *testing.T) {
		r := req("POST", "/tenants")
		_, err := table.Classify(r)
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))

		r.IdempotencyKey = "key-1"
		d, err := table.Classify(r)
		require.NoError(t, err)
		assert.Equal(t, KindComplex, d.Kind)
		assert.Equal(t, "create_tenant", d.Operation)
		assert.Empty(t, d.Adapter)
	})

	t.Run("exact segment beats wildcard", func(t *testing.T) {
		// /tenants/current matches both /tenants/:id and /tenants/current.
		d, err := table.Classify(req("GET", "/tenants/current"))
		require.NoError(t, err)
		assert.Equal(t, "get_current_tenant", d.Operation)
	})

	t.Run("method mismatch is unroutable", func(t *testing.T) {
		_, err := table.Classify(req("DELETE", "/tenants/42"))
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))
	})

	t.Run("unknown path is unroutable", func(t *testing.T) {
		_, err := table.Classify(req("GET", "/nowhere"))
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))
	})

	t.Run("missing identity rejected", func(t *testing.T) {
		r := req("GET", "/tenants/42")
		r.TenantID = ""
		_, err := table.Classify(r)
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))
	})

	t.Run("lowercase method normalized", func(t *testing.T) {
		d, err := table.Classify(req("get", "/tenants/42"))
		require.NoError(t, err)
		assert.Equal(t, "get_tenant", d.Operation)
	})
}

func TestParseRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `rules: []`},
		{"not yaml", `{{{`},
		{"simple without adapter", `
rules:
  - method: GET
    path: /x
    operation: x
    kind: simple
    resource: r
    action: a
`},
		{"complex with adapter", `
rules:
  - method: POST
    path: /x
    operation: x
    kind: complex
    resource: r
    action: a
    adapter: nope
`},
		{"relative path", `
rules:
  - method: GET
    path: x
    operation: x
    kind: simple
    resource: r
    action: a
    adapter: y
`},
		{"unknown kind", `
rules:
  - method: GET
    path: /x
    operation: x
    kind: batch
    resource: r
    action: a
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseDefaultsKindSimple(t *testing.T) {
	table, err := Parse([]byte(`
rules:
  - method: GET
    path: /ping
    operation: ping
    resource: system
    action: read
    adapter: noop
`))
	require.NoError(t, err)

	d, err := table.Classify(req("GET", "/ping"))
	require.NoError(t, err)
	assert.Equal(t, KindSimple, d.Kind)
}
