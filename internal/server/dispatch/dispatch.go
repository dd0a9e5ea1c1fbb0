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

// Package dispatch turns a classified complex request into a durable
// execution. The execution id is a deterministic function of (tenant,
// idempotency key), and an atomic KV create arbitrates concurrent
// submissions, so resubmitting a key can never create a second execution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/errs"
	"github.com/tidemark-io/conductor/internal/server/saga"
)

var executionNamespace = uuid.NewV5(uuid.NamespaceURL, "https://conductor.tidemark.io/executions")

// ExecutionIDFor derives the deterministic execution id for one submission.
// Identical (tenant, key) pairs converge on the same id before any state
// exists anywhere.
func ExecutionIDFor(tenantID, idempotencyKey string) api.ExecutionID {
	return api.ExecutionID(uuid.NewV5(executionNamespace, tenantID+"\x00"+idempotencyKey).String())
}

// Ports the dispatcher drives. Production wiring passes the shared
// jetstream connection, the history log and the status store; tests
// substitute in-memory ones.
type (
	// Conn is the slice of the jetstream connection Start needs: the
	// atomic index create, the input write and the task publish.
	Conn interface {
		CreateKey(ctx context.Context, bucket, key string, value []byte) (uint64, error)
		Set(ctx context.Context, bucket, key string, value []byte) (uint64, error)
		PublishMsgJS(ctx context.Context, msg *nats.Msg, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error)
	}

	// EventLog appends execution events to durable history.
	EventLog interface {
		Append(ctx context.Context, event api.ExecutionEvent) error
	}

	// StatusReader reports the projected state of an execution. The
	// dispatcher consults it before repairing a rejoined submission.
	StatusReader interface {
		Get(ctx context.Context, id api.ExecutionID) (api.ExecutionStatus, error)
	}
)

// Dispatcher starts durable executions.
type Dispatcher struct {
	conn     Conn
	serde    serde.BinarySerde
	names    api.Names
	log      EventLog
	plans    *saga.PlanRegistry
	statuses StatusReader
	logger   *slog.Logger

	indexBucket string
	inputBucket string
}

func New(
	conn Conn,
	s serde.BinarySerde,
	names api.Names,
	log EventLog,
	plans *saga.PlanRegistry,
	statuses StatusReader,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		conn:        conn,
		serde:       s,
		names:       names,
		log:         log,
		plans:       plans,
		statuses:    statuses,
		logger:      logger,
		indexBucket: names.Bucket(api.ExecutionIndexBucket),
		inputBucket: names.Bucket(api.ExecutionInputBucket),
	}
}

// Start creates (or rejoins) the execution for a classified complex
// request. The returned created flag is false when the idempotency key was
// already bound. Every path after the index create is idempotent, so a
// crashed dispatch is repaired by resubmitting the same key.
func (d *Dispatcher) Start(ctx context.Context, operation string, req api.OperationRequest) (api.ExecutionID, bool, error) {
	if req.IdempotencyKey == "" {
		return "", false, errs.Classification("complex operations require an idempotency key")
	}

	plan, err := d.plans.Lookup(operation)
	if err != nil {
		return "", false, errs.Classification(fmt.Sprintf("no plan for operation %s", operation))
	}

	id := ExecutionIDFor(req.TenantID, req.IdempotencyKey)
	created := true

	_, err = d.conn.CreateKey(ctx, d.indexBucket, api.IndexKey(req.TenantID, req.IdempotencyKey), []byte(id))
	if err != nil {
		if !errors.Is(err, natsjs.ErrKeyExists) {
			return "", false, errs.Dispatch(err)
		}
		created = false
	}

	if !created {
		// The key is already bound. Repair (re-run the writes below) only
		// while the execution has no projected progress: once a worker has
		// started it, a second task message past the stream's duplicate
		// window would hand the same execution to two workers.
		st, err := d.statuses.Get(ctx, id)
		switch {
		case err == nil && st.State != api.StatePending:
			return id, false, nil
		case err != nil && errs.Code(err) != errs.CodeExecutionNotFound:
			return "", false, errs.Dispatch(err)
		}
	}

	// Input, start event and task are all deduplicated (same content, or
	// same message id), so a racing duplicate submission simply repeats
	// harmless writes and returns the same id.
	input, err := d.serde.SerializeBinary(req.Payload)
	if err != nil {
		return "", false, errs.Dispatch(err)
	}
	if _, err := d.conn.Set(ctx, d.inputBucket, api.InputKey(id), input); err != nil {
		return "", false, errs.Dispatch(err)
	}

	if err := d.log.Append(ctx, &api.ExecutionStarted{
		EventBase:      api.EventBase{ID: id, TenantID: req.TenantID},
		OperationType:  operation,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
		StepCount:      len(plan.Steps),
		Input:          req.Payload,
	}); err != nil {
		return "", false, errs.Dispatch(err)
	}

	task, err := d.serde.SerializeBinary(api.ExecutionTask{
		ExecutionID:   id.String(),
		TenantID:      req.TenantID,
		ActorID:       req.ActorID,
		OperationType: operation,
	})
	if err != nil {
		return "", false, errs.Dispatch(err)
	}
	msg := &nats.Msg{
		Subject: d.names.TaskSubject(id),
		Data:    task,
	}
	if _, err := d.conn.PublishMsgJS(ctx, msg, natsjs.WithMsgID("task."+id.String())); err != nil {
		return "", false, errs.Dispatch(err)
	}

	d.logger.InfoContext(ctx, "execution dispatched",
		"execution_id", id,
		"operation", operation,
		"tenant_id", req.TenantID,
		"created", created,
	)
	return id, created, nil
}
