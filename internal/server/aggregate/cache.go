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

// Package aggregate is the read-side cache shaping the output of one or
// more executions. Entries are ephemeral and rebuildable; correctness never
// depends on them.
package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tidemark-io/conductor/api/serde"
)

// Value is one cached aggregation result.
type Value struct {
	Data       any
	ETag       string
	ComputedAt time.Time
}

type entry struct {
	value     Value
	expiresAt time.Time
}

// Cache implements get_or_compute with TTL expiry, prefix invalidation and
// single-flight deduplication of concurrent computes for the same key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	group      singleflight.Group
	serde      serde.BinarySerde
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewCache(s serde.BinarySerde, defaultTTL time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		serde:      s,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across concurrent callers and caches the result. A failed compute
// caches nothing; the next call recomputes from scratch.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) (Value, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent winner may have filled the entry while this call
		// waited its turn.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		data, err := compute(ctx)
		if err != nil {
			return Value{}, err
		}

		v := Value{
			Data:       data,
			ETag:       c.etag(data),
			ComputedAt: c.now(),
		}
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		c.put(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return Value{}, err
	}
	return result.(Value), nil
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every key with the given prefix. An empty prefix
// clears the whole cache.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) get(key string) (Value, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return Value{}, false
	}
	return e.value, true
}

func (c *Cache) put(key string, v Value, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache) etag(data any) string {
	raw, err := c.serde.SerializeBinary(data)
	if err != nil {
		// The value still serves; it just never matches an If-None-Match.
		c.logger.Warn("etag serialization failed", "error", err)
		return ""
	}
	sum := sha256.Sum256(raw)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// Fanout runs every source in parallel and returns all results, or the
// first error with no results at all. All-or-nothing keeps a partial
// aggregate from ever being cached.
func Fanout(ctx context.Context, sources map[string]func(ctx context.Context) (any, error)) (map[string]any, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[string]any, len(sources))

	for name, source := range sources {
		g.Go(func() error {
			v, err := source(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
