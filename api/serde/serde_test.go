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

package serde_test

import (
	"testing"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
)

// Events and tasks must survive either serde unchanged; the whole core is
// configured with one BinarySerde and never assumes a wire format.
func TestExecutionTaskRoundTrip(t *testing.T) {
	serdes := []struct {
		name string
		s    serde.BinarySerde
	}{
		{"JSON", &serde.JsonSerde{}},
		{"MessagePack", &serde.MsgpackSerde{}},
	}

	task := api.ExecutionTask{
		ExecutionID:   "0c19e3a1-9d54-5ad7-bb1e-55d6e4db87a1",
		TenantID:      "acme",
		ActorID:       "user-7",
		OperationType: "create_tenant",
	}

	for _, tc := range serdes {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.s.SerializeBinary(task)
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			var got api.ExecutionTask
			if err := tc.s.DeserializeBinary(data, &got); err != nil {
				t.Fatalf("deserialize: %v", err)
			}
			if got != task {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, task)
			}
		})
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	var dst api.ExecutionTask
	if err := (&serde.JsonSerde{}).DeserializeBinary([]byte("{not json"), &dst); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if err := (&serde.MsgpackSerde{}).DeserializeBinary([]byte{0xc1}, &dst); err == nil {
		t.Fatal("expected error for malformed msgpack")
	}
}
