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

// Package gateway is the single HTTP entry point. It classifies each
// submission, enforces tenant context, proxies simple operations straight
// to their adapter and hands complex ones to the dispatcher. A caller
// always gets a direct result, an execution id to poll, or an immediate
// rejection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/adapter"
	"github.com/tidemark-io/conductor/internal/server/classify"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

// Ports the gateway drives. Production wiring passes the real dispatcher,
// tenant service, status store, canceler and history log.
type (
	Starter interface {
		Start(ctx context.Context, operation string, req api.OperationRequest) (api.ExecutionID, bool, error)
	}

	Authorizer interface {
		Authorize(ctx context.Context, tenantID, actorID, resource, action string) error
	}

	StatusReader interface {
		Get(ctx context.Context, id api.ExecutionID) (api.ExecutionStatus, error)
	}

	Canceler interface {
		Cancel(ctx context.Context, id api.ExecutionID, requestedBy string) error
	}

	HistoryLoader interface {
		Load(ctx context.Context, id api.ExecutionID) ([]api.ExecutionEvent, error)
	}
)

// Options carries the gateway's collaborators and settings.
type Options struct {
	Addr       string
	JWTSecret  []byte
	Classifier *classify.Classifier
	Adapters   *adapter.Registry
	Authz      Authorizer
	Dispatcher Starter
	Statuses   StatusReader
	Canceler   Canceler
	History    HistoryLoader
	Ready      func() bool
	Logger     *slog.Logger
}

// Server serves the operations and executions API.
type Server struct {
	echo *echo.Echo
	opts Options
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, opts: opts}

	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)

	identity := bearerAuth(opts.JWTSecret)
	if len(opts.JWTSecret) == 0 {
		identity = headerAuth()
	}
	authed := e.Group("", identity)
	authed.POST("/operations", s.submitOperation)
	authed.GET("/executions/:id", s.getExecution)
	authed.GET("/executions/:id/history", s.getExecutionHistory)
	authed.POST("/executions/:id/cancel", s.cancelExecution)

	return s
}

// Run serves until ctx is done, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.opts.Logger.InfoContext(ctx, "gateway listening", "addr", s.opts.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type operationBody struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (s *Server) submitOperation(c echo.Context) error {
	var body operationBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, errs.Classification("malformed request body"))
	}

	req := api.OperationRequest{
		Method:         body.Method,
		Path:           body.Path,
		Payload:        body.Payload,
		IdempotencyKey: body.IdempotencyKey,
		TenantID:       callerTenant(c),
		ActorID:        callerActor(c),
	}
	ctx := c.Request().Context()

	decision, err := s.opts.Classifier.Table().Classify(req)
	if err != nil {
		return respondError(c, err)
	}

	if err := s.opts.Authz.Authorize(ctx, req.TenantID, req.ActorID, decision.Resource, decision.Action); err != nil {
		return respondError(c, err)
	}

	if decision.Kind == classify.KindSimple {
		return s.invokeSimple(c, req, decision)
	}

	id, created, err := s.opts.Dispatcher.Start(ctx, decision.Operation, req)
	if err != nil {
		return respondError(c, err)
	}
	s.opts.Logger.InfoContext(ctx, "operation accepted",
		"operation", decision.Operation, "execution_id", id, "created", created)

	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": id,
		"status_url":   "/executions/" + id.String(),
	})
}

// invokeSimple proxies a simple operation synchronously to its adapter.
// Path parameters ride along in the input so the adapter sees the full
// request shape.
func (s *Server) invokeSimple(c echo.Context, req api.OperationRequest, decision classify.Decision) error {
	act, err := s.opts.Adapters.LookupDirect(decision.Adapter)
	if err != nil {
		return respondError(c, errs.Classification(err.Error()))
	}

	input := req.Payload
	if len(decision.PathParams) > 0 {
		input = make(map[string]any, len(req.Payload)+len(decision.PathParams))
		for k, v := range req.Payload {
			input[k] = v
		}
		for k, v := range decision.PathParams {
			input[k] = v
		}
	}

	outcome := act.Invoke(c.Request().Context(), adapter.Invocation{
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Input:    input,
	})
	if !outcome.Succeeded() {
		return respondError(c, outcome.Err(decision.Adapter))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"operation": decision.Operation,
		"result":    outcome.Output(),
	})
}

// loadOwned fetches a status record and hides executions belonging to
// other tenants behind a 404.
func (s *Server) loadOwned(c echo.Context) (api.ExecutionStatus, error) {
	id := api.ExecutionID(c.Param("id"))
	st, err := s.opts.Statuses.Get(c.Request().Context(), id)
	if err != nil {
		return api.ExecutionStatus{}, err
	}
	if st.TenantID != callerTenant(c) {
		return api.ExecutionStatus{}, errs.NotFound(id.String())
	}
	return st, nil
}

func (s *Server) getExecution(c echo.Context) error {
	st, err := s.loadOwned(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) getExecutionHistory(c echo.Context) error {
	st, err := s.loadOwned(c)
	if err != nil {
		return respondError(c, err)
	}

	events, err := s.opts.History.Load(c.Request().Context(), api.ExecutionID(st.ExecutionID))
	if err != nil {
		return respondError(c, err)
	}

	out := make([]map[string]any, len(events))
	for i, event := range events {
		out[i] = map[string]any{
			"event":  event.EventName(),
			"detail": event,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": st.ExecutionID,
		"events":       out,
	})
}

func (s *Server) cancelExecution(c echo.Context) error {
	st, err := s.loadOwned(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := s.opts.Canceler.Cancel(c.Request().Context(), api.ExecutionID(st.ExecutionID), callerActor(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": st.ExecutionID,
		"cancel":       "accepted",
	})
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(c echo.Context) error {
	if s.opts.Ready != nil && !s.opts.Ready() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
