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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/conductor/internal/server/adapter"
)

func TestProvisionIsIdempotentPerInvocation(t *testing.T) {
	d := newDirectory()

	inv := adapter.Invocation{
		TenantID:    "acme",
		ActorID:     "alice",
		ExecutionID: "exec-1",
		StepIndex:   0,
		Input:       map[string]any{"name": "Acme Corp"},
	}

	// A redelivery after a crash between the downstream effect and the
	// effect-journal write repeats the invocation verbatim; exactly one
	// account may exist afterwards.
	first := d.provision(context.Background(), inv)
	require.True(t, first.Succeeded())
	second := d.provision(context.Background(), inv)
	require.True(t, second.Succeeded())

	assert.Equal(t, first.Output()["account_id"], second.Output()["account_id"])
	assert.Len(t, d.accounts, 1)
}

func TestProvisionDistinctExecutionsAllocateSeparately(t *testing.T) {
	d := newDirectory()

	base := adapter.Invocation{
		TenantID: "acme",
		Input:    map[string]any{"name": "Acme Corp"},
	}
	a, b := base, base
	a.ExecutionID = "exec-1"
	b.ExecutionID = "exec-2"

	require.True(t, d.provision(context.Background(), a).Succeeded())
	require.True(t, d.provision(context.Background(), b).Succeeded())
	assert.Len(t, d.accounts, 2)
}

func TestBuiltinsRegister(t *testing.T) {
	plans, adapters, err := builtins()
	require.NoError(t, err)

	_, err = plans.Lookup("create_tenant")
	assert.NoError(t, err)

	// tenant_directory is the gateway-invocable one; the step adapters
	// stay out of the direct path.
	_, err = adapters.LookupDirect("tenant_directory")
	assert.NoError(t, err)
	_, err = adapters.LookupDirect("provision_account")
	assert.Error(t, err)
}
