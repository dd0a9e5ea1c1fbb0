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

import "time"

// ExecutionID identifies one durable run of a complex operation. It is a
// deterministic function of (tenant id, idempotency key), so resubmissions
// converge on the same id before any state exists.
type ExecutionID string

func (id ExecutionID) String() string { return string(id) }

// ExecutionState is the lifecycle state of a WorkflowExecution. Terminal
// states (Completed, Failed, Cancelled) are immutable except for reads.
type ExecutionState string

const (
	StatePending      ExecutionState = "PENDING"
	StateRunning      ExecutionState = "RUNNING"
	StateCompensating ExecutionState = "COMPENSATING"
	StateCompleted    ExecutionState = "COMPLETED"
	StateFailed       ExecutionState = "FAILED"
	StateCancelled    ExecutionState = "CANCELLED"
)

func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CompensationState records how a rollback ended. Operators must be able to
// tell "rolled back cleanly" from "rollback itself failed".
type CompensationState string

const (
	CompensationStateNone      CompensationState = ""
	CompensationStateRunning   CompensationState = "RUNNING"
	CompensationStateCompleted CompensationState = "COMPLETED"
	CompensationStateFailed    CompensationState = "FAILED"
)

// OperationRequest is an inbound operation as seen by the classifier.
// Immutable once classified.
type OperationRequest struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	TenantID       string         `json:"tenant_id"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// TenantContext is the resolved (tenant, actor, roles, permissions) tuple.
// Owned by the tenant service; read-shared downstream, never mutated.
type TenantContext struct {
	TenantID    string    `json:"tenant_id"`
	ActorID     string    `json:"actor_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// HasPermission reports whether the resolved permission set contains
// "<resource>:<action>" or the resource-level wildcard "<resource>:*".
func (t TenantContext) HasPermission(resource, action string) bool {
	want := resource + ":" + action
	wild := resource + ":*"
	for _, p := range t.Permissions {
		if p == want || p == wild || p == "*" {
			return true
		}
	}
	return false
}

// RetryPolicy bounds retries for one saga step. Durations are carried as
// milliseconds so the policy survives any serde unchanged.
type RetryPolicy struct {
	MaximumAttempts    int     `json:"max_attempts"`
	InitialIntervalMs  int64   `json:"initial_interval_ms"`
	BackoffCoefficient float64 `json:"backoff_coefficient"`
	MaximumIntervalMs  int64   `json:"max_interval_ms"`
	AttemptTimeoutMs   int64   `json:"attempt_timeout_ms"`
}

// ExecutionTask is the unit handed to the saga worker pool. One message per
// runnable execution; JetStream delivery gives task exclusivity.
type ExecutionTask struct {
	ExecutionID   string `json:"exec_id"`
	TenantID      string `json:"tenant_id"`
	ActorID       string `json:"actor_id"`
	OperationType string `json:"op_type"`
}

// ExecutionStatus is the last-persisted view of a WorkflowExecution, folded
// from history by the status projector. Status reads never block on
// in-flight work; they read this record.
type ExecutionStatus struct {
	ExecutionID    string            `json:"execution_id"`
	TenantID       string            `json:"tenant_id"`
	OperationType  string            `json:"operation_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	State          ExecutionState    `json:"state"`
	StepCursor     int               `json:"step_cursor"`
	StepCount      int               `json:"step_count"`
	Compensation   CompensationState `json:"compensation,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Result         map[string]any    `json:"result,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PermissionInvalidation is the event evicting cached decisions for one
// (tenant, actor). Missing or duplicate events are safe: eviction is
// idempotent.
type PermissionInvalidation struct {
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheInvalidation evicts aggregation cache entries by key prefix.
type CacheInvalidation struct {
	KeyPrefix string `json:"cache_key_prefix"`
}

// OpsAlert is published on the alert subject for operator attention.
type OpsAlert struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert reasons.
const (
	AlertExecutionOverAge    = "execution_over_age"
	AlertCompensationFailure = "compensation_failure"
)
