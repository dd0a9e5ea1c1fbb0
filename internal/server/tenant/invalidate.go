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

package tenant

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// SubscribeInvalidations evicts cached decisions when permission change
// events arrive. Core NATS is enough here: a dropped event only means the
// decision lives until its TTL.
func SubscribeInvalidations(conn *jetstream.Connection, s serde.BinarySerde, svc *Service, logger *slog.Logger) (*nats.Subscription, error) {
	return conn.SubscribeAsync(api.AuthzInvalidateSubject, func(msg *nats.Msg) {
		var event api.PermissionInvalidation
		if err := s.DeserializeBinary(msg.Data, &event); err != nil {
			logger.Warn("dropping malformed permission invalidation", "error", err)
			return
		}
		if event.TenantID == "" {
			logger.Warn("dropping permission invalidation without tenant id")
			return
		}
		svc.Invalidate(event.TenantID, event.ActorID)
		logger.Debug("evicted permission decisions",
			"tenant_id", event.TenantID, "actor_id", event.ActorID, "reason", event.Reason)
	})
}
