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

// ExecutionEvent is the closed set of history events. Every event carries
// the execution id and the tenant id of the originating request.
type ExecutionEvent interface {
	EventName() string
	ExecID() ExecutionID
	Tenant() string

	isExecutionEvent()
}

var _ ExecutionEvent = (*ExecutionStarted)(nil)
var _ ExecutionEvent = (*StepStarted)(nil)
var _ ExecutionEvent = (*StepCompleted)(nil)
var _ ExecutionEvent = (*StepRetried)(nil)
var _ ExecutionEvent = (*StepFailed)(nil)
var _ ExecutionEvent = (*CompensationStarted)(nil)
var _ ExecutionEvent = (*CompensationCompleted)(nil)
var _ ExecutionEvent = (*CompensationFailed)(nil)
var _ ExecutionEvent = (*ExecutionCompleted)(nil)
var _ ExecutionEvent = (*ExecutionFailed)(nil)
var _ ExecutionEvent = (*ExecutionCancelled)(nil)

// EventBase carries the fields common to every history event.
type EventBase struct {
	ID       ExecutionID `json:"id"`
	TenantID string      `json:"tenant_id"`
}

func (b EventBase) ExecID() ExecutionID { return b.ID }
func (b EventBase) Tenant() string      { return b.TenantID }
func (EventBase) isExecutionEvent()     {}

// -- Execution Started Event --
type ExecutionStarted struct {
	EventBase

	OperationType  string         `json:"op_type"`
	ActorID        string         `json:"actor_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	StepCount      int            `json:"step_count"`
	Input          map[string]any `json:"input"`
}

func (*ExecutionStarted) EventName() string { return "execution/started" }

// -- Step Started Event --
type StepStarted struct {
	EventBase

	StepIndex int    `json:"step"`
	StepName  string `json:"step_name"`
	Adapter   string `json:"adapter"`
	Attempt   int    `json:"attempt"`
}

func (*StepStarted) EventName() string { return "step/started" }

// -- Step Completed Event --
type StepCompleted struct {
	EventBase

	StepIndex int            `json:"step"`
	StepName  string         `json:"step_name"`
	Adapter   string         `json:"adapter"`
	Attempts  int            `json:"attempts"`
	Output    map[string]any `json:"output,omitempty"`
}

func (*StepCompleted) EventName() string { return "step/completed" }

// -- Step Retried Event --
type StepRetried struct {
	EventBase

	StepIndex      int    `json:"step"`
	StepName       string `json:"step_name"`
	Attempt        int    `json:"attempt"`
	Error          string `json:"error"`
	NextRetryDelay int64  `json:"next_retry_delay_ms"`
}

func (*StepRetried) EventName() string { return "step/retried" }

// -- Step Failed Event --
type StepFailed struct {
	EventBase

	StepIndex int    `json:"step"`
	StepName  string `json:"step_name"`
	Adapter   string `json:"adapter"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
	Fatal     bool   `json:"fatal"`
}

func (*StepFailed) EventName() string { return "step/failed" }

// -- Compensation Started Event --
type CompensationStarted struct {
	EventBase

	StepIndex int    `json:"step"`
	StepName  string `json:"step_name"`
	Adapter   string `json:"adapter"`
}

func (*CompensationStarted) EventName() string { return "compensation/started" }

// -- Compensation Completed Event --
type CompensationCompleted struct {
	EventBase

	StepIndex int    `json:"step"`
	StepName  string `json:"step_name"`
}

func (*CompensationCompleted) EventName() string { return "compensation/completed" }

// -- Compensation Failed Event --
type CompensationFailed struct {
	EventBase

	StepIndex int    `json:"step"`
	StepName  string `json:"step_name"`
	Error     string `json:"error"`
}

func (*CompensationFailed) EventName() string { return "compensation/failed" }

// -- Execution Completed --
type ExecutionCompleted struct {
	EventBase

	Result map[string]any `json:"result,omitempty"`
}

func (*ExecutionCompleted) EventName() string { return "execution/completed" }

// -- Execution Failed --
type ExecutionFailed struct {
	EventBase

	Error string `json:"error"`
	// Compensation distinguishes "rolled back cleanly" from "rollback
	// itself failed".
	Compensation CompensationState `json:"compensation"`
}

func (*ExecutionFailed) EventName() string { return "execution/failed" }

// -- Execution Cancelled --
type ExecutionCancelled struct {
	EventBase

	// StepCursor is the index of the next step that was never attempted.
	StepCursor int `json:"step_cursor"`
}

func (*ExecutionCancelled) EventName() string { return "execution/cancelled" }
