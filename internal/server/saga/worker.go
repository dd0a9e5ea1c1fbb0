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

package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// KVCancelFlags implements CancelChecker over the cancel-requests bucket.
// Presence of the key is the flag; the value is informational.
type KVCancelFlags struct {
	Conn   *jetstream.Connection
	Bucket string
}

func (f *KVCancelFlags) CancelRequested(ctx context.Context, id api.ExecutionID) (bool, error) {
	_, err := f.Conn.Get(ctx, f.Bucket, api.CancelKey(id))
	if err != nil {
		if errors.Is(err, natsjs.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KVInputs reads the submitted payload persisted by the dispatcher.
type KVInputs struct {
	Conn   *jetstream.Connection
	Serde  serde.BinarySerde
	Bucket string
}

func (s *KVInputs) Load(ctx context.Context, id api.ExecutionID) (map[string]any, error) {
	entry, err := s.Conn.Get(ctx, s.Bucket, api.InputKey(id))
	if err != nil {
		if errors.Is(err, natsjs.ErrKeyNotFound) {
			return nil, fmt.Errorf("no input persisted for execution %s", id)
		}
		return nil, err
	}
	var input map[string]any
	if err := s.Serde.DeserializeBinary(entry.Value(), &input); err != nil {
		return nil, fmt.Errorf("decode input for %s: %w", id, err)
	}
	return input, nil
}

// Worker consumes execution tasks from the work queue and feeds them to the
// engine. The queue's ack wait is the exclusivity lease: one worker owns a
// task until it acks, naks or goes silent.
type Worker struct {
	conn    *jetstream.Connection
	serde   serde.BinarySerde
	names   api.Names
	engine  *Engine
	inputs  *KVInputs
	workers int
	ackWait time.Duration
	logger  *slog.Logger
}

func NewWorker(
	conn *jetstream.Connection,
	s serde.BinarySerde,
	names api.Names,
	engine *Engine,
	inputs *KVInputs,
	workers int,
	ackWait time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		conn:    conn,
		serde:   s,
		names:   names,
		engine:  engine,
		inputs:  inputs,
		workers: workers,
		ackWait: ackWait,
		logger:  logger,
	}
}

// Run consumes tasks until ctx is done, then drains in-flight executions.
func (w *Worker) Run(ctx context.Context) error {
	consumer, err := w.conn.EnsureConsumer(ctx, w.names.TasksStream(), natsjs.ConsumerConfig{
		Durable:       api.SagaWorkerConsumer,
		AckPolicy:     natsjs.AckExplicitPolicy,
		AckWait:       w.ackWait,
		FilterSubject: w.names.TasksFilter(),
		MaxAckPending: w.workers,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("task consumer: %w", err)
	}

	sem := make(chan struct{}, w.workers)
	var wg sync.WaitGroup

	cc, err := consumer.Consume(func(msg natsjs.Msg) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("consume tasks: %w", err)
	}

	w.logger.InfoContext(ctx, "saga worker started", "workers", w.workers, "ack_wait", w.ackWait)
	<-ctx.Done()
	cc.Stop()
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, msg natsjs.Msg) {
	var task api.ExecutionTask
	if err := w.serde.DeserializeBinary(msg.Data(), &task); err != nil {
		// A task that cannot decode will never decode; park it.
		w.logger.Error("terminating undecodable task", "error", err)
		if err := msg.Term(); err != nil {
			w.logger.Error("term failed", "error", err)
		}
		return
	}

	logger := w.logger.With("execution_id", task.ExecutionID)

	input, err := w.inputs.Load(ctx, api.ExecutionID(task.ExecutionID))
	if err != nil {
		logger.Error("input load failed, redelivering", "error", err)
		w.nak(msg, logger)
		return
	}

	hb := func() {
		if err := msg.InProgress(); err != nil {
			logger.Warn("heartbeat failed", "error", err)
		}
	}

	if err := w.engine.Execute(ctx, task, input, hb); err != nil {
		logger.Error("execution interrupted, redelivering", "error", err)
		w.nak(msg, logger)
		return
	}
	if err := msg.Ack(); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

func (w *Worker) nak(msg natsjs.Msg, logger *slog.Logger) {
	if err := msg.NakWithDelay(5 * time.Second); err != nil {
		logger.Error("nak failed", "error", err)
	}
}
