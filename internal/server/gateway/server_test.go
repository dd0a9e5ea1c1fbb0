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

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/adapter"
	"github.com/tidemark-io/conductor/internal/server/classify"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

var testSecret = []byte("test-secret")

const gatewayRoutes = `
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
`

type fakeAuthz struct{ deny bool }

func (f *fakeAuthz) Authorize(_ context.Context, tenantID, actorID, resource, action string) error {
	if f.deny {
		return errs.Unauthorized(tenantID, actorID, resource, action)
	}
	return nil
}

type fakeStarter struct {
	id      api.ExecutionID
	created bool
	err     error
}

func (f *fakeStarter) Start(context.Context, string, api.OperationRequest) (api.ExecutionID, bool, error) {
	return f.id, f.created, f.err
}

type fakeStatuses struct{ records map[api.ExecutionID]api.ExecutionStatus }

func (f *fakeStatuses) Get(_ context.Context, id api.ExecutionID) (api.ExecutionStatus, error) {
	st, ok := f.records[id]
	if !ok {
		return api.ExecutionStatus{}, errs.NotFound(id.String())
	}
	return st, nil
}

type fakeCanceler struct{ err error }

func (f *fakeCanceler) Cancel(context.Context, api.ExecutionID, string) error { return f.err }

type fakeHistory struct{ events []api.ExecutionEvent }

func (f *fakeHistory) Load(context.Context, api.ExecutionID) ([]api.ExecutionEvent, error) {
	return f.events, nil
}

type testGateway struct {
	server   *Server
	authz    *fakeAuthz
	starter  *fakeStarter
	statuses *fakeStatuses
	canceler *fakeCanceler
	history  *fakeHistory
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gatewayRoutes), 0o644))
	classifier, err := classify.NewClassifier(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	adapters := adapter.NewRegistry()
	require.NoError(t, adapters.RegisterDirect(adapter.Func{
		AdapterName: "tenant_directory",
		Fn: func(_ context.Context, inv adapter.Invocation) adapter.Outcome {
			return adapter.Success(map[string]any{"tenant": inv.Input["id"]})
		},
	}))

	g := &testGateway{
		authz:   &fakeAuthz{},
		starter: &fakeStarter{id: "exec-1", created: true},
		statuses: &fakeStatuses{records: map[api.ExecutionID]api.ExecutionStatus{
			"exec-1": {ExecutionID: "exec-1", TenantID: "acme", State: api.StateRunning},
			"exec-2": {ExecutionID: "exec-2", TenantID: "globex", State: api.StateRunning},
		}},
		canceler: &fakeCanceler{},
		history: &fakeHistory{events: []api.ExecutionEvent{
			&api.ExecutionStarted{EventBase: api.EventBase{ID: "exec-1", TenantID: "acme"}},
		}},
	}
	g.server = NewServer(Options{
		Addr:       ":0",
		JWTSecret:  testSecret,
		Classifier: classifier,
		Adapters:   adapters,
		Authz:      g.authz,
		Dispatcher: g.starter,
		Statuses:   g.statuses,
		Canceler:   g.canceler,
		History:    g.history,
		Ready:      func() bool { return true },
		Logger:     slog.New(slog.DiscardHandler),
	})
	return g
}

func signToken(t *testing.T, tenantID, actorID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant": tenantID,
		"sub":    actorID,
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (g *testGateway) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestSubmitRequiresToken(t *testing.T) {
	g := newTestGateway(t)
	rec := g.do(t, http.MethodPost, "/operations", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitSimpleOperation(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method": "GET",
		"path":   "/tenants/42",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "get_tenant", body["operation"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "42", result["tenant"], "path param must reach the adapter")
}

func TestSubmitComplexOperation(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method":          "POST",
		"path":            "/tenants",
		"payload":         map[string]any{"name": "acme"},
		"idempotency_key": "K1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "exec-1", body["execution_id"])
	assert.Equal(t, "/executions/exec-1", body["status_url"])
}

func TestSubmitComplexWithoutIdempotencyKey(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method": "POST",
		"path":   "/tenants",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitDenied(t *testing.T) {
	g := newTestGateway(t)
	g.authz.deny = true
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method": "GET",
		"path":   "/tenants/42",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitUnroutable(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method": "DELETE",
		"path":   "/nowhere",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitDispatchFailure(t *testing.T) {
	g := newTestGateway(t)
	g.starter.err = errs.Dispatch(errors.New("kv write failed"))
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodPost, "/operations", token, map[string]any{
		"method":          "POST",
		"path":            "/tenants",
		"idempotency_key": "K1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetExecution(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	t.Run("own execution", func(t *testing.T) {
		rec := g.do(t, http.MethodGet, "/executions/exec-1", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var st api.ExecutionStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, api.StateRunning, st.State)
	})

	t.Run("other tenant's execution hidden", func(t *testing.T) {
		rec := g.do(t, http.MethodGet, "/executions/exec-2", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown execution", func(t *testing.T) {
		rec := g.do(t, http.MethodGet, "/executions/nope", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetExecutionHistory(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	rec := g.do(t, http.MethodGet, "/executions/exec-1/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ExecutionID string           `json:"execution_id"`
		Events      []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "execution/started", body.Events[0]["event"])
}

func TestCancelExecution(t *testing.T) {
	g := newTestGateway(t)
	token := signToken(t, "acme", "alice")

	t.Run("accepted", func(t *testing.T) {
		rec := g.do(t, http.MethodPost, "/executions/exec-1/cancel", token, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("rejected for terminal execution", func(t *testing.T) {
		g.canceler.err = errs.CancelRejected("exec-1", "execution already COMPLETED")
		rec := g.do(t, http.MethodPost, "/executions/exec-1/cancel", token, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
