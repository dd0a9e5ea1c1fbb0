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

// Package errs carries the error taxonomy of the orchestration core on top
// of go-errors. Callers branch on the text code, never on error strings.
package errs

import (
	stderrors "errors"

	"github.com/goliatone/go-errors"
)

// Text codes. Classification and authorization errors return synchronously
// to the caller; activity and compensation errors are recorded on the
// execution and surface only through the status API.
const (
	CodeClassificationInvalid = "CLASSIFICATION_INVALID"
	CodeAuthzDenied           = "AUTHZ_DENIED"
	CodeActivityRetryable     = "ACTIVITY_RETRYABLE"
	CodeActivityFatal         = "ACTIVITY_FATAL"
	CodeCompensationFailed    = "COMPENSATION_FAILED"
	CodeDispatchFailed        = "DISPATCH_FAILED"
	CodeExecutionNotFound     = "EXECUTION_NOT_FOUND"
	CodeCancelRejected        = "CANCEL_REJECTED"
)

// Classification reports a malformed or unroutable request. Always fatal to
// the request.
func Classification(msg string) *errors.Error {
	return errors.New(msg, errors.CategoryBadInput).WithTextCode(CodeClassificationInvalid)
}

// Unauthorized reports a denied permission decision. Never retried.
func Unauthorized(tenantID, actorID, resource, action string) *errors.Error {
	return errors.New("permission denied", errors.CategoryValidation).
		WithTextCode(CodeAuthzDenied).
		WithMetadata(map[string]any{
			"tenant_id": tenantID,
			"actor_id":  actorID,
			"resource":  resource,
			"action":    action,
		})
}

// Retryable wraps a transient activity failure, retried per policy.
func Retryable(err error, adapter string) *errors.Error {
	return errors.Wrap(err, errors.CategoryExternal, "retryable activity failure").
		WithTextCode(CodeActivityRetryable).
		WithMetadata(map[string]any{"adapter": adapter})
}

// Fatal wraps a business-rule violation. Triggers compensation immediately
// without retry.
func Fatal(err error, adapter string) *errors.Error {
	return errors.Wrap(err, errors.CategoryHandler, "fatal activity failure").
		WithTextCode(CodeActivityFatal).
		WithMetadata(map[string]any{"adapter": adapter})
}

// Compensation wraps a failure during rollback. Implies inconsistent state,
// always surfaced to operators distinctly from the original failure.
func Compensation(err error, stepName string) *errors.Error {
	return errors.Wrap(err, errors.CategoryHandler, "compensation failure").
		WithTextCode(CodeCompensationFailed).
		WithMetadata(map[string]any{"step": stepName})
}

// Dispatch wraps a failure to persist a new execution. No partial state
// exists yet, so the whole submission is safe to retry.
func Dispatch(err error) *errors.Error {
	return errors.Wrap(err, errors.CategoryExternal, "failed to persist execution").
		WithTextCode(CodeDispatchFailed)
}

// NotFound reports an unknown execution id.
func NotFound(executionID string) *errors.Error {
	return errors.New("execution not found", errors.CategoryBadInput).
		WithTextCode(CodeExecutionNotFound).
		WithMetadata(map[string]any{"execution_id": executionID})
}

// CancelRejected reports a cancellation that cannot be honored.
func CancelRejected(executionID, reason string) *errors.Error {
	return errors.New("cancellation rejected", errors.CategoryConflict).
		WithTextCode(CodeCancelRejected).
		WithMetadata(map[string]any{"execution_id": executionID, "reason": reason})
}

// Code extracts the taxonomy text code, or "" for untyped errors.
func Code(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRetryable reports whether an activity error may be retried per policy.
func IsRetryable(err error) bool {
	return Code(err) == CodeActivityRetryable
}
