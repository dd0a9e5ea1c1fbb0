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

package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cenkalti/backoff/v5"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/adapter"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

// Ports the engine drives. The production implementations live in worker.go
// on top of JetStream; tests substitute in-memory ones.
type (
	// EventLog appends execution events to durable history.
	EventLog interface {
		Append(ctx context.Context, event api.ExecutionEvent) error
	}

	// EffectJournal is the lookup-then-act record of completed adapter
	// invocations.
	EffectJournal interface {
		Lookup(ctx context.Context, id api.ExecutionID, step int) (adapter.Effect, bool, error)
		Record(ctx context.Context, effect adapter.Effect) error
		LookupCompensation(ctx context.Context, id api.ExecutionID, step int) (adapter.Effect, bool, error)
		RecordCompensation(ctx context.Context, effect adapter.Effect) error
	}

	// Authorizer answers per-step permission checks.
	Authorizer interface {
		Authorize(ctx context.Context, tenantID, actorID, resource, action string) error
	}

	// CancelChecker reports whether cancellation was requested for an
	// execution. Consulted at step boundaries only.
	CancelChecker interface {
		CancelRequested(ctx context.Context, id api.ExecutionID) (bool, error)
	}

	// Heartbeat extends the task's delivery lease. Called at step
	// boundaries and before every attempt.
	Heartbeat func()
)

const compensationAttempts = 5

// Engine executes one task at a time against a plan. It is stateless
// between calls; everything durable lives in the journal and the history
// log, which is what makes crash-resume work.
type Engine struct {
	plans    *PlanRegistry
	adapters *adapter.Registry
	log      EventLog
	journal  EffectJournal
	authz    Authorizer
	cancels  CancelChecker
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(
	plans *PlanRegistry,
	adapters *adapter.Registry,
	log EventLog,
	journal EffectJournal,
	authz Authorizer,
	cancels CancelChecker,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		plans:    plans,
		adapters: adapters,
		log:      log,
		journal:  journal,
		authz:    authz,
		cancels:  cancels,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Execute drives one execution from its journaled position to a terminal
// event. A returned error means the run could not reach a terminal state
// (infrastructure trouble) and the task should be redelivered; business
// failures terminate the execution and return nil.
func (e *Engine) Execute(ctx context.Context, task api.ExecutionTask, input map[string]any, hb Heartbeat) error {
	id := api.ExecutionID(task.ExecutionID)
	logger := e.logger.With("execution_id", task.ExecutionID, "operation", task.OperationType)

	plan, err := e.plans.Lookup(task.OperationType)
	if err != nil {
		// No plan can ever run this task; retrying is pointless.
		logger.ErrorContext(ctx, "no plan for task", "error", err)
		return e.log.Append(ctx, &api.ExecutionFailed{
			EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
			Error:     err.Error(),
		})
	}

	// Resume from the journal: the first step with no recorded effect is
	// where the previous incarnation died (or where we start fresh).
	outputs := make(map[int]map[string]any, len(plan.Steps))
	cursor := 0
	for i := range plan.Steps {
		effect, found, err := e.journal.Lookup(ctx, id, i)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		outputs[i] = effect.Output
		cursor = i + 1
	}
	if cursor > 0 {
		logger.InfoContext(ctx, "resuming execution", "step_cursor", cursor)
	}

	failedStep := -1
	var stepErr error
	for i := cursor; i < len(plan.Steps); i++ {
		hb()

		cancelled, err := e.cancels.CancelRequested(ctx, id)
		if err != nil {
			return err
		}
		if cancelled {
			logger.InfoContext(ctx, "cancellation honored", "step_cursor", i)
			return e.log.Append(ctx, &api.ExecutionCancelled{
				EventBase:  api.EventBase{ID: id, TenantID: task.TenantID},
				StepCursor: i,
			})
		}

		step := plan.Steps[i]

		// Fresh per-step check so a revoked grant stops the plan here.
		if err := e.authz.Authorize(ctx, task.TenantID, task.ActorID, step.Resource, step.Action); err != nil {
			if e.recoverable(err) {
				return err
			}
			if err := e.log.Append(ctx, &api.StepFailed{
				EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
				StepIndex: i,
				StepName:  step.Name,
				Adapter:   step.Adapter,
				Error:     err.Error(),
				Fatal:     true,
			}); err != nil {
				return err
			}
			failedStep, stepErr = i, err
			break
		}

		output, err := e.runStep(ctx, task, step, i, input, outputs, hb, logger)
		if err != nil {
			if e.recoverable(err) {
				return err
			}
			failedStep, stepErr = i, err
			break
		}
		outputs[i] = output
	}

	if failedStep < 0 {
		// The boundary after the last step is still a boundary: a cancel
		// requested while that step was in flight lets the step finish
		// (its effect is journaled) but the execution ends CANCELLED.
		cancelled, err := e.cancels.CancelRequested(ctx, id)
		if err != nil {
			return err
		}
		if cancelled {
			logger.InfoContext(ctx, "cancellation honored", "step_cursor", len(plan.Steps))
			return e.log.Append(ctx, &api.ExecutionCancelled{
				EventBase:  api.EventBase{ID: id, TenantID: task.TenantID},
				StepCursor: len(plan.Steps),
			})
		}
		return e.log.Append(ctx, &api.ExecutionCompleted{
			EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
			Result:    outputs[len(plan.Steps)-1],
		})
	}

	compState, err := e.compensate(ctx, task, plan, failedStep, hb, logger)
	if err != nil {
		return err
	}
	return e.log.Append(ctx, &api.ExecutionFailed{
		EventBase:    api.EventBase{ID: id, TenantID: task.TenantID},
		Error:        stepErr.Error(),
		Compensation: compState,
	})
}

// recoverable tells infrastructure trouble (redeliver the task) apart from
// business failure (terminate the execution). Only errors from the closed
// taxonomy terminate.
func (e *Engine) recoverable(err error) bool {
	switch errs.Code(err) {
	case errs.CodeActivityRetryable, errs.CodeActivityFatal, errs.CodeAuthzDenied, errs.CodeClassificationInvalid:
		return false
	}
	return true
}

func (e *Engine) runStep(
	ctx context.Context,
	task api.ExecutionTask,
	step Step,
	index int,
	input map[string]any,
	outputs map[int]map[string]any,
	hb Heartbeat,
	logger *slog.Logger,
) (map[string]any, error) {
	id := api.ExecutionID(task.ExecutionID)

	// Lookup-then-act: a journaled effect means the downstream action
	// already happened in a previous delivery.
	if effect, found, err := e.journal.Lookup(ctx, id, index); err != nil {
		return nil, err
	} else if found {
		return effect.Output, nil
	}

	act, err := e.adapters.Lookup(step.Adapter)
	if err != nil {
		return nil, errs.Fatal(err, step.Adapter)
	}

	policy := step.retryPolicy()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(policy.InitialIntervalMs) * time.Millisecond
	bo.Multiplier = policy.BackoffCoefficient
	bo.MaxInterval = time.Duration(policy.MaximumIntervalMs) * time.Millisecond

	stepInput := step.buildInput(input, outputs)
	invocation := adapter.Invocation{
		TenantID:    task.TenantID,
		ActorID:     task.ActorID,
		ExecutionID: id,
		StepIndex:   index,
		Input:       stepInput,
	}

	for attempt := 1; ; attempt++ {
		hb()
		if err := e.log.Append(ctx, &api.StepStarted{
			EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
			StepIndex: index,
			StepName:  step.Name,
			Adapter:   step.Adapter,
			Attempt:   attempt,
		}); err != nil {
			return nil, err
		}

		outcome := e.invoke(ctx, act, invocation, policy)
		if outcome.Succeeded() {
			effect := adapter.Effect{
				ExecutionID: id,
				StepIndex:   index,
				Adapter:     step.Adapter,
				Output:      outcome.Output(),
				RecordedAt:  time.Now().UTC(),
			}
			if err := e.journal.Record(ctx, effect); err != nil {
				return nil, err
			}
			if err := e.log.Append(ctx, &api.StepCompleted{
				EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
				StepIndex: index,
				StepName:  step.Name,
				Adapter:   step.Adapter,
				Attempts:  attempt,
				Output:    outcome.Output(),
			}); err != nil {
				return nil, err
			}
			return outcome.Output(), nil
		}

		actErr := outcome.Err(step.Adapter)
		fatal := outcome.Kind() == adapter.KindFatal
		exhausted := attempt >= policy.MaximumAttempts

		if fatal || exhausted {
			logger.WarnContext(ctx, "step failed",
				"step", step.Name, "attempts", attempt, "fatal", fatal, "error", actErr)
			if err := e.log.Append(ctx, &api.StepFailed{
				EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
				StepIndex: index,
				StepName:  step.Name,
				Adapter:   step.Adapter,
				Attempts:  attempt,
				Error:     actErr.Error(),
				Fatal:     fatal,
			}); err != nil {
				return nil, err
			}
			return nil, actErr
		}

		delay := bo.NextBackOff()
		if err := e.log.Append(ctx, &api.StepRetried{
			EventBase:      api.EventBase{ID: id, TenantID: task.TenantID},
			StepIndex:      index,
			StepName:       step.Name,
			Attempt:        attempt,
			Error:          actErr.Error(),
			NextRetryDelay: delay.Milliseconds(),
		}); err != nil {
			return nil, err
		}
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// invoke runs one adapter attempt under the per-attempt timeout. A timeout
// is indistinguishable from a lost response, so it maps to retryable and
// idempotency does the rest.
func (e *Engine) invoke(ctx context.Context, act adapter.Adapter, inv adapter.Invocation, policy api.RetryPolicy) adapter.Outcome {
	if policy.AttemptTimeoutMs <= 0 {
		return act.Invoke(ctx, inv)
	}
	actx, cancel := context.WithTimeout(ctx, time.Duration(policy.AttemptTimeoutMs)*time.Millisecond)
	defer cancel()

	outcome := act.Invoke(actx, inv)
	if !outcome.Succeeded() && actx.Err() == context.DeadlineExceeded && outcome.Kind() == adapter.KindFatal {
		// Never let a timeout masquerade as a business failure.
		return adapter.Retryable(fmt.Errorf("attempt timed out after %dms", policy.AttemptTimeoutMs))
	}
	return outcome
}

// compensate rolls back every journaled step below failedStep, in strict
// reverse order. Each compensation is retried independently; the first one
// that exhausts its retries stops the rollback and marks it failed.
func (e *Engine) compensate(
	ctx context.Context,
	task api.ExecutionTask,
	plan Plan,
	failedStep int,
	hb Heartbeat,
	logger *slog.Logger,
) (api.CompensationState, error) {
	id := api.ExecutionID(task.ExecutionID)

	for i := failedStep - 1; i >= 0; i-- {
		step := plan.Steps[i]
		if step.Compensate == "" {
			continue
		}
		effect, found, err := e.journal.Lookup(ctx, id, i)
		if err != nil {
			return api.CompensationStateNone, err
		}
		if !found {
			continue
		}
		hb()

		if err := e.log.Append(ctx, &api.CompensationStarted{
			EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
			StepIndex: i,
			StepName:  step.Name,
			Adapter:   step.Compensate,
		}); err != nil {
			return api.CompensationStateNone, err
		}

		if err := e.compensateStep(ctx, task, step, i, effect); err != nil {
			logger.ErrorContext(ctx, "compensation failed",
				"step", step.Name, "adapter", step.Compensate, "error", err)
			if err := e.log.Append(ctx, &api.CompensationFailed{
				EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
				StepIndex: i,
				StepName:  step.Name,
				Error:     err.Error(),
			}); err != nil {
				return api.CompensationStateNone, err
			}
			return api.CompensationStateFailed, nil
		}

		if err := e.log.Append(ctx, &api.CompensationCompleted{
			EventBase: api.EventBase{ID: id, TenantID: task.TenantID},
			StepIndex: i,
			StepName:  step.Name,
		}); err != nil {
			return api.CompensationStateNone, err
		}
	}
	return api.CompensationStateCompleted, nil
}

func (e *Engine) compensateStep(ctx context.Context, task api.ExecutionTask, step Step, index int, original adapter.Effect) error {
	id := api.ExecutionID(task.ExecutionID)

	act, err := e.adapters.Lookup(step.Compensate)
	if err != nil {
		return errs.Compensation(err, step.Name)
	}

	// The compensating adapter receives what the step produced, so it can
	// undo exactly that effect.
	invocation := adapter.Invocation{
		TenantID:    task.TenantID,
		ActorID:     task.ActorID,
		ExecutionID: id,
		StepIndex:   index,
		Input:       original.Output,
	}

	runErr := retry.Do(
		func() error {
			if _, found, err := e.journal.LookupCompensation(ctx, id, index); err != nil {
				return err
			} else if found {
				return nil
			}
			outcome := act.Invoke(ctx, invocation)
			if outcome.Succeeded() {
				return e.journal.RecordCompensation(ctx, adapter.Effect{
					ExecutionID: id,
					StepIndex:   index,
					Adapter:     step.Compensate,
					Output:      outcome.Output(),
					RecordedAt:  time.Now().UTC(),
				})
			}
			err := outcome.Err(step.Compensate)
			if outcome.Kind() == adapter.KindFatal {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(compensationAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if runErr != nil {
		return errs.Compensation(runErr, step.Name)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
