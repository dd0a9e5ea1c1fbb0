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

package api

import (
	"fmt"
	"strings"
)

// KV keys may contain a-z, A-Z, 0-9, _, -, ., = and /. Dots separate tokens,
// so wildcard watches can match hierarchies. Idempotency keys are caller
// supplied and get sanitized before use.

// IndexKey returns the execution-index KV key for one submission. The index
// is scoped by tenant so two tenants may reuse the same idempotency key.
func IndexKey(tenantID, idempotencyKey string) string {
	return fmt.Sprintf("idx.%s.%s", sanitizeToken(tenantID), sanitizeToken(idempotencyKey))
}

// InputKey returns the execution-input KV key holding the submitted payload.
func InputKey(id ExecutionID) string {
	return fmt.Sprintf("input.%s", id)
}

// StatusKey returns the execution-status KV key.
func StatusKey(id ExecutionID) string {
	return fmt.Sprintf("status.%s", id)
}

// EffectKey returns the execution-effects KV key for one (execution, step)
// adapter outcome. This is the lookup-then-act idempotency journal.
func EffectKey(id ExecutionID, stepIndex int) string {
	return fmt.Sprintf("eff.%s.%d", id, stepIndex)
}

// CompensationEffectKey mirrors EffectKey for compensating actions.
func CompensationEffectKey(id ExecutionID, stepIndex int) string {
	return fmt.Sprintf("ceff.%s.%d", id, stepIndex)
}

// CancelKey returns the cancel-requests KV key.
func CancelKey(id ExecutionID) string {
	return fmt.Sprintf("cancel.%s", id)
}

// sanitizeToken escapes bytes outside the KV-safe set as "=XX" hex. The
// escape is injective: distinct inputs always yield distinct tokens, so
// caller-supplied keys can never collide on one index entry.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02x", c)
		}
	}
	return b.String()
}
