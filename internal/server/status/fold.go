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

// Package status derives and serves the last-persisted view of executions.
// A projector folds history events into one record per execution; readers
// get that record and never block on in-flight work.
package status

import (
	"time"

	"github.com/tidemark-io/conductor/api"
)

// Fold applies one history event to a status record. It is a pure function
// of (record, event, event time); replaying the same events always yields
// the same record. Events arriving after a terminal state are ignored.
func Fold(s api.ExecutionStatus, event api.ExecutionEvent, at time.Time) api.ExecutionStatus {
	if s.State.Terminal() {
		return s
	}

	s.ExecutionID = event.ExecID().String()
	s.TenantID = event.Tenant()
	s.UpdatedAt = at

	switch e := event.(type) {
	case *api.ExecutionStarted:
		s.State = api.StatePending
		s.OperationType = e.OperationType
		s.IdempotencyKey = e.IdempotencyKey
		s.StepCount = e.StepCount
		s.StartedAt = at

	case *api.StepStarted:
		s.State = api.StateRunning
		s.StepCursor = e.StepIndex

	case *api.StepCompleted:
		s.StepCursor = e.StepIndex + 1
		s.LastError = ""

	case *api.StepRetried:
		s.LastError = e.Error

	case *api.StepFailed:
		s.LastError = e.Error

	case *api.CompensationStarted:
		s.State = api.StateCompensating
		s.Compensation = api.CompensationStateRunning

	case *api.CompensationFailed:
		s.Compensation = api.CompensationStateFailed
		s.LastError = e.Error

	case *api.ExecutionCompleted:
		s.State = api.StateCompleted
		s.Result = e.Result
		s.LastError = ""

	case *api.ExecutionFailed:
		s.State = api.StateFailed
		s.Compensation = e.Compensation
		s.LastError = e.Error

	case *api.ExecutionCancelled:
		s.State = api.StateCancelled
		s.StepCursor = e.StepCursor
	}
	return s
}
