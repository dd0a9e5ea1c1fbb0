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

package app

import (
	"context"
	"fmt"
	"time"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// dedupeWindow is the stream duplicate window; re-publishes of the same
// message id inside it collapse to one message. It bounds how long a
// crashed dispatch or resumed worker may re-emit safely.
const dedupeWindow = 2 * time.Minute

// bootstrap ensures the streams and buckets the core depends on. Every
// ensure is idempotent, so concurrent instances can race through it.
func bootstrap(ctx context.Context, conn *jetstream.Connection, names api.Names) error {
	_, err := conn.EnsureStream(ctx, natsjs.StreamConfig{
		Name:        names.HistoryStream(),
		Description: "Append-only execution event history",
		Subjects:    []string{names.HistoryFilter()},
		Storage:     natsjs.FileStorage,
		Retention:   natsjs.LimitsPolicy,
		Duplicates:  dedupeWindow,
	})
	if err != nil {
		return fmt.Errorf("ensure history stream: %w", err)
	}

	_, err = conn.EnsureStream(ctx, natsjs.StreamConfig{
		Name:        names.TasksStream(),
		Description: "Work queue of runnable executions",
		Subjects:    []string{names.TasksFilter()},
		Storage:     natsjs.FileStorage,
		Retention:   natsjs.WorkQueuePolicy,
		Duplicates:  dedupeWindow,
	})
	if err != nil {
		return fmt.Errorf("ensure tasks stream: %w", err)
	}

	buckets := []natsjs.KeyValueConfig{
		{Bucket: names.Bucket(api.ExecutionStatusBucket), Description: "Last-persisted execution status records"},
		{Bucket: names.Bucket(api.ExecutionIndexBucket), Description: "Idempotency key to execution id index"},
		{Bucket: names.Bucket(api.ExecutionInputBucket), Description: "Submitted payloads of executions"},
		{Bucket: names.Bucket(api.ExecutionEffectsBucket), Description: "Journal of completed adapter invocations"},
		{Bucket: names.Bucket(api.CancelRequestBucket), Description: "Cooperative cancellation flags"},
	}
	for _, cfg := range buckets {
		cfg.Storage = natsjs.FileStorage
		if _, err := conn.EnsureKV(ctx, cfg); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
		}
	}
	return nil
}
