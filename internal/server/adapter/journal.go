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

package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// Effect is the durable record of one completed adapter invocation. The
// journal is consulted before every invocation (lookup-then-act): a present
// effect means the downstream action already happened and must not repeat.
// Only successes are journaled; failures leave no entry so the next attempt
// invokes again.
type Effect struct {
	ExecutionID api.ExecutionID `json:"execution_id"`
	StepIndex   int             `json:"step"`
	Adapter     string          `json:"adapter"`
	Output      map[string]any  `json:"output,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// Journal persists effects in the execution-effects bucket. It doubles as
// the resume cursor: after a crash the worker replays the plan from the
// first step with no journal entry.
type Journal struct {
	conn   *jetstream.Connection
	serde  serde.BinarySerde
	bucket string
}

func NewJournal(conn *jetstream.Connection, s serde.BinarySerde, bucket string) *Journal {
	return &Journal{conn: conn, serde: s, bucket: bucket}
}

// Lookup returns the recorded effect of a step, or found=false if the step
// has not completed.
func (j *Journal) Lookup(ctx context.Context, id api.ExecutionID, step int) (Effect, bool, error) {
	return j.get(ctx, api.EffectKey(id, step))
}

// Record journals a completed step. Writing twice for the same step is
// harmless since the content is identical.
func (j *Journal) Record(ctx context.Context, effect Effect) error {
	return j.put(ctx, api.EffectKey(effect.ExecutionID, effect.StepIndex), effect)
}

// LookupCompensation returns the recorded effect of a compensating action.
func (j *Journal) LookupCompensation(ctx context.Context, id api.ExecutionID, step int) (Effect, bool, error) {
	return j.get(ctx, api.CompensationEffectKey(id, step))
}

// RecordCompensation journals a completed compensating action.
func (j *Journal) RecordCompensation(ctx context.Context, effect Effect) error {
	return j.put(ctx, api.CompensationEffectKey(effect.ExecutionID, effect.StepIndex), effect)
}

func (j *Journal) get(ctx context.Context, key string) (Effect, bool, error) {
	entry, err := j.conn.Get(ctx, j.bucket, key)
	if err != nil {
		if errors.Is(err, natsjs.ErrKeyNotFound) {
			return Effect{}, false, nil
		}
		return Effect{}, false, fmt.Errorf("journal lookup %s: %w", key, err)
	}
	var effect Effect
	if err := j.serde.DeserializeBinary(entry.Value(), &effect); err != nil {
		return Effect{}, false, fmt.Errorf("journal decode %s: %w", key, err)
	}
	return effect, true, nil
}

func (j *Journal) put(ctx context.Context, key string, effect Effect) error {
	data, err := j.serde.SerializeBinary(effect)
	if err != nil {
		return fmt.Errorf("journal encode %s: %w", key, err)
	}
	if _, err := j.conn.Set(ctx, j.bucket, key, data); err != nil {
		return fmt.Errorf("journal write %s: %w", key, err)
	}
	return nil
}
