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
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexKeyCollisionFree(t *testing.T) {
	// Tenants or keys that differ only in escaped runes must not land on
	// the same index entry.
	pairs := [][2][2]string{
		{{"a.b", "K1"}, {"a_b", "K1"}},
		{{"acme", "order.1"}, {"acme", "order_1"}},
		{{"acme", "a=3d"}, {"acme", "a=3d=3d"}},
		{{"acme", "käse"}, {"acme", "k__se"}},
	}
	for _, p := range pairs {
		assert.NotEqual(t,
			IndexKey(p[0][0], p[0][1]),
			IndexKey(p[1][0], p[1][1]),
			"%v vs %v", p[0], p[1])
	}
}

func TestIndexKeyStaysKVSafe(t *testing.T) {
	safe := regexp.MustCompile(`^[a-zA-Z0-9_.\-=]+$`)

	for _, key := range []string{
		"plain", "with space", "päivä", "a/b", "dot.dot", "x=y",
	} {
		k := IndexKey("acme corp", key)
		assert.True(t, safe.MatchString(k), "unsafe key %q from %q", k, key)
	}
}

func TestIndexKeyDeterministic(t *testing.T) {
	assert.Equal(t, IndexKey("acme", "K1"), IndexKey("acme", "K1"))
}
