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

package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/errs"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// Canceler accepts cooperative cancellation requests. Accepting only sets a
// flag; the engine consults it at step boundaries, so an in-flight step
// always finishes or fails before the cancellation is honored.
type Canceler struct {
	conn   *jetstream.Connection
	store  *Store
	bucket string
	logger *slog.Logger
}

func NewCanceler(conn *jetstream.Connection, store *Store, bucket string, logger *slog.Logger) *Canceler {
	return &Canceler{conn: conn, store: store, bucket: bucket, logger: logger}
}

// Cancel requests cancellation of an execution. It is rejected for unknown
// executions and for executions already in a terminal state.
func (c *Canceler) Cancel(ctx context.Context, id api.ExecutionID, requestedBy string) error {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.State.Terminal() {
		return errs.CancelRejected(id.String(), "execution already "+string(current.State))
	}

	flag := []byte(requestedBy + "@" + time.Now().UTC().Format(time.RFC3339))
	if _, err := c.conn.Set(ctx, c.bucket, api.CancelKey(id), flag); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "cancellation requested",
		"execution_id", id, "requested_by", requestedBy, "state", current.State)
	return nil
}
