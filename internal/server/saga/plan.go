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

// Package saga drives complex operations to completion. A plan is an
// ordered list of steps; each step invokes one adapter with independent
// retries, and steps that declare a compensating adapter are rolled back in
// strict reverse order when a later step fails for good.
package saga

import (
	"fmt"
	"sync"

	"github.com/tidemark-io/conductor/api"
)

// DefaultRetryPolicy applies to steps that do not declare their own.
var DefaultRetryPolicy = api.RetryPolicy{
	MaximumAttempts:    5,
	InitialIntervalMs:  500,
	BackoffCoefficient: 2.0,
	MaximumIntervalMs:  30_000,
	AttemptTimeoutMs:   30_000,
}

// Transform builds a step's input from the execution input and the outputs
// of all prior steps (indexed by step). A nil Transform passes the
// execution input through unchanged.
type Transform func(input map[string]any, outputs map[int]map[string]any) map[string]any

// Step is one activity in a plan.
type Step struct {
	Name    string
	Adapter string
	// Compensate names the adapter that reverses this step. Empty means
	// the step needs no rollback.
	Compensate string
	// Resource and Action are re-authorized against the tenant context
	// before every step, so a mid-execution revocation stops the plan.
	Resource string
	Action   string
	Retry    *api.RetryPolicy
	Input    Transform
}

func (s Step) retryPolicy() api.RetryPolicy {
	if s.Retry != nil {
		return *s.Retry
	}
	return DefaultRetryPolicy
}

func (s Step) buildInput(input map[string]any, outputs map[int]map[string]any) map[string]any {
	if s.Input == nil {
		return input
	}
	return s.Input(input, outputs)
}

// Plan is the declared step list for one operation type.
type Plan struct {
	Operation string
	Steps     []Step
}

func (p Plan) validate() error {
	if p.Operation == "" {
		return fmt.Errorf("plan needs an operation type")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.Operation)
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" || s.Adapter == "" {
			return fmt.Errorf("plan %s step %d needs a name and an adapter", p.Operation, i)
		}
		if s.Resource == "" || s.Action == "" {
			return fmt.Errorf("plan %s step %s needs a resource and an action", p.Operation, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("plan %s has duplicate step name %s", p.Operation, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// PlanRegistry holds the plans available to the engine, keyed by operation
// type.
type PlanRegistry struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewPlanRegistry() *PlanRegistry {
	return &PlanRegistry{plans: make(map[string]Plan)}
}

func (r *PlanRegistry) Register(p Plan) error {
	if err := p.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plans[p.Operation]; dup {
		return fmt.Errorf("plan already registered: %s", p.Operation)
	}
	r.plans[p.Operation] = p
	return nil
}

func (r *PlanRegistry) Lookup(operation string) (Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[operation]
	if !ok {
		return Plan{}, fmt.Errorf("no plan registered for %s", operation)
	}
	return p, nil
}
