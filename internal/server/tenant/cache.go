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
	"strings"
	"sync"
	"time"
)

// decisionCache holds allow/deny decisions keyed by
// tenant/actor/resource/action with a fixed TTL. Both outcomes are cached;
// the TTL is the staleness bound when an invalidation event never arrives.
type decisionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]decisionEntry
	now     func() time.Time
}

type decisionEntry struct {
	allowed   bool
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		entries: make(map[string]decisionEntry),
		now:     time.Now,
	}
}

// decisionKey uses newline separators: none of the components may contain
// one, and it keeps actor-prefix eviction a plain prefix match.
func decisionKey(tenantID, actorID, resource, action string) string {
	return tenantID + "\n" + actorID + "\n" + resource + "\n" + action
}

func (c *decisionCache) get(tenantID, actorID, resource, action string) (allowed, ok bool) {
	c.mu.RLock()
	entry, ok := c.entries[decisionKey(tenantID, actorID, resource, action)]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

func (c *decisionCache) put(tenantID, actorID, resource, action string, allowed bool) {
	c.mu.Lock()
	c.entries[decisionKey(tenantID, actorID, resource, action)] = decisionEntry{
		allowed:   allowed,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// evict drops every decision for one actor, or for a whole tenant when
// actorID is empty. Eviction is idempotent.
func (c *decisionCache) evict(tenantID, actorID string) {
	prefix := tenantID + "\n"
	if actorID != "" {
		prefix += actorID + "\n"
	}
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
