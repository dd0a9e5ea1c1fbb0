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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tidemark-io/conductor/api"
)

var base = api.EventBase{ID: "exec-1", TenantID: "acme"}

func foldAll(events ...api.ExecutionEvent) api.ExecutionStatus {
	var s api.ExecutionStatus
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range events {
		s = Fold(s, e, at.Add(time.Duration(i)*time.Second))
	}
	return s
}

func TestFoldHappyLifecycle(t *testing.T) {
	s := foldAll(
		&api.ExecutionStarted{EventBase: base, OperationType: "create_tenant", IdempotencyKey: "K1", StepCount: 2},
		&api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 1},
		&api.StepCompleted{EventBase: base, StepIndex: 0},
		&api.StepStarted{EventBase: base, StepIndex: 1, Attempt: 1},
		&api.StepCompleted{EventBase: base, StepIndex: 1},
		&api.ExecutionCompleted{EventBase: base, Result: map[string]any{"tenant": "acme"}},
	)

	assert.Equal(t, api.StateCompleted, s.State)
	assert.Equal(t, "exec-1", s.ExecutionID)
	assert.Equal(t, "acme", s.TenantID)
	assert.Equal(t, "create_tenant", s.OperationType)
	assert.Equal(t, 2, s.StepCursor)
	assert.Equal(t, 2, s.StepCount)
	assert.Empty(t, s.LastError)
	assert.Equal(t, "acme", s.Result["tenant"])
	assert.True(t, s.UpdatedAt.After(s.StartedAt))
}

func TestFoldPendingBeforeFirstStep(t *testing.T) {
	s := foldAll(&api.ExecutionStarted{EventBase: base, StepCount: 3})
	assert.Equal(t, api.StatePending, s.State)
	assert.Equal(t, 0, s.StepCursor)
}

func TestFoldRetryKeepsRunning(t *testing.T) {
	s := foldAll(
		&api.ExecutionStarted{EventBase: base, StepCount: 1},
		&api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 1},
		&api.StepRetried{EventBase: base, StepIndex: 0, Attempt: 1, Error: "timeout"},
		&api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 2},
	)
	assert.Equal(t, api.StateRunning, s.State)
	assert.Equal(t, "timeout", s.LastError)
}

func TestFoldCompensationDistinguishesOutcomes(t *testing.T) {
	prefix := []api.ExecutionEvent{
		&api.ExecutionStarted{EventBase: base, StepCount: 2},
		&api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 1},
		&api.StepCompleted{EventBase: base, StepIndex: 0},
		&api.StepStarted{EventBase: base, StepIndex: 1, Attempt: 1},
		&api.StepFailed{EventBase: base, StepIndex: 1, Error: "boom", Fatal: true},
		&api.CompensationStarted{EventBase: base, StepIndex: 0},
	}

	t.Run("clean rollback", func(t *testing.T) {
		s := foldAll(append(prefix,
			&api.CompensationCompleted{EventBase: base, StepIndex: 0},
			&api.ExecutionFailed{EventBase: base, Error: "boom", Compensation: api.CompensationStateCompleted},
		)...)
		assert.Equal(t, api.StateFailed, s.State)
		assert.Equal(t, api.CompensationStateCompleted, s.Compensation)
	})

	t.Run("rollback itself failed", func(t *testing.T) {
		s := foldAll(append(prefix,
			&api.CompensationFailed{EventBase: base, StepIndex: 0, Error: "stuck"},
			&api.ExecutionFailed{EventBase: base, Error: "boom", Compensation: api.CompensationStateFailed},
		)...)
		assert.Equal(t, api.StateFailed, s.State)
		assert.Equal(t, api.CompensationStateFailed, s.Compensation)
	})

	t.Run("mid-compensation state", func(t *testing.T) {
		s := foldAll(prefix...)
		assert.Equal(t, api.StateCompensating, s.State)
		assert.Equal(t, api.CompensationStateRunning, s.Compensation)
	})
}

func TestFoldCancelled(t *testing.T) {
	s := foldAll(
		&api.ExecutionStarted{EventBase: base, StepCount: 3},
		&api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 1},
		&api.StepCompleted{EventBase: base, StepIndex: 0},
		&api.ExecutionCancelled{EventBase: base, StepCursor: 1},
	)
	assert.Equal(t, api.StateCancelled, s.State)
	assert.Equal(t, 1, s.StepCursor)
}

func TestFoldTerminalIsImmutable(t *testing.T) {
	done := foldAll(
		&api.ExecutionStarted{EventBase: base, StepCount: 1},
		&api.ExecutionCompleted{EventBase: base},
	)

	after := Fold(done, &api.StepStarted{EventBase: base, StepIndex: 0, Attempt: 9}, time.Now())
	assert.Equal(t, done, after, "events after a terminal state must not change the record")
}
