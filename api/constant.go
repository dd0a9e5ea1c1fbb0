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

// NATS Stream Names
const (
	ExecutionHistoryStream = "EXECUTION_HISTORY"
	ExecutionTasksStream   = "EXECUTION_TASKS"
)

// NATS Subject Prefix
const (
	HistorySubjectPrefix = "history"
)

// NATS Subject Format
const (
	HistoryPublishSubjectPattern = HistorySubjectPrefix + ".%s" // executionID
	ExecutionTaskSubjectPattern  = "execution.%s.tasks"         // executionID
)

// NATS Subject Patterns
const (
	HistoryFilterSubjectPattern = HistorySubjectPrefix + ".>"

	ExecutionTasksFilterSubjectPattern = "execution.*.tasks"
)

// Plain NATS event subjects consumed by the core.
const (
	AuthzInvalidateSubject = "authz.invalidate"
	CacheInvalidateSubject = "cache.invalidate"
	OpsAlertSubject        = "ops.alerts"
)

// Consumer Names
const (
	StatusProjectorConsumer = "projector-execution-status"
	SagaWorkerConsumer      = "worker-execution-tasks"
)

// KeyValue Bucket Names
const (
	ExecutionStatusBucket  = "execution-status"
	ExecutionIndexBucket   = "execution-index"
	ExecutionInputBucket   = "execution-input"
	ExecutionEffectsBucket = "execution-effects"
	CancelRequestBucket    = "cancel-requests"
)

// JetStream Headers
const (
	EventNameHeader = "Conductor-Event-Name"
	TenantIDHeader  = "Conductor-Tenant-Id"
)
