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
	"errors"
	"fmt"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/errs"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// Store reads and writes execution status records in the status bucket.
type Store struct {
	conn   *jetstream.Connection
	serde  serde.BinarySerde
	bucket string
}

func NewStore(conn *jetstream.Connection, s serde.BinarySerde, bucket string) *Store {
	return &Store{conn: conn, serde: s, bucket: bucket}
}

// Get returns the last-persisted status of one execution.
func (s *Store) Get(ctx context.Context, id api.ExecutionID) (api.ExecutionStatus, error) {
	entry, err := s.conn.Get(ctx, s.bucket, api.StatusKey(id))
	if err != nil {
		if errors.Is(err, natsjs.ErrKeyNotFound) {
			return api.ExecutionStatus{}, errs.NotFound(id.String())
		}
		return api.ExecutionStatus{}, fmt.Errorf("read status %s: %w", id, err)
	}
	var status api.ExecutionStatus
	if err := s.serde.DeserializeBinary(entry.Value(), &status); err != nil {
		return api.ExecutionStatus{}, fmt.Errorf("decode status %s: %w", id, err)
	}
	return status, nil
}

// Put persists a status record.
func (s *Store) Put(ctx context.Context, status api.ExecutionStatus) error {
	data, err := s.serde.SerializeBinary(status)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", status.ExecutionID, err)
	}
	if _, err := s.conn.Set(ctx, s.bucket, api.StatusKey(api.ExecutionID(status.ExecutionID)), data); err != nil {
		return fmt.Errorf("write status %s: %w", status.ExecutionID, err)
	}
	return nil
}

// List returns every persisted status record. Used by the age sweeper.
func (s *Store) List(ctx context.Context) ([]api.ExecutionStatus, error) {
	keys, err := s.conn.Keys(ctx, s.bucket)
	if err != nil {
		return nil, err
	}
	statuses := make([]api.ExecutionStatus, 0, len(keys))
	for _, key := range keys {
		entry, err := s.conn.Get(ctx, s.bucket, key)
		if err != nil {
			if errors.Is(err, natsjs.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		var status api.ExecutionStatus
		if err := s.serde.DeserializeBinary(entry.Value(), &status); err != nil {
			return nil, fmt.Errorf("decode status %s: %w", key, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
