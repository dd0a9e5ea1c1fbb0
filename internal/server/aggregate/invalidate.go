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

package aggregate

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// SubscribeInvalidations evicts cache entries by prefix when invalidation
// events arrive. Lost events are tolerable: the TTL bounds staleness.
func SubscribeInvalidations(conn *jetstream.Connection, s serde.BinarySerde, cache *Cache, logger *slog.Logger) (*nats.Subscription, error) {
	return conn.SubscribeAsync(api.CacheInvalidateSubject, func(msg *nats.Msg) {
		var event api.CacheInvalidation
		if err := s.DeserializeBinary(msg.Data, &event); err != nil {
			logger.Warn("dropping malformed cache invalidation", "error", err)
			return
		}
		if event.KeyPrefix == "" {
			logger.Warn("dropping cache invalidation without a key prefix")
			return
		}
		cache.InvalidatePrefix(event.KeyPrefix)
		logger.Debug("cache invalidated", "prefix", event.KeyPrefix)
	})
}
