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

// Package adapter defines the boundary between orchestration logic and
// downstream systems. Adapters translate a step invocation into exactly one
// downstream interaction and report a closed set of outcomes; the engine
// never sees raw downstream errors.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

// OutcomeKind is the closed classification of an adapter invocation result.
type OutcomeKind string

const (
	// KindSuccess means the downstream effect is in place.
	KindSuccess OutcomeKind = "success"
	// KindRetryable means the failure is transient and the step may be
	// retried per its policy.
	KindRetryable OutcomeKind = "retryable_failure"
	// KindFatal means a business rule was violated; retrying cannot help
	// and compensation begins immediately.
	KindFatal OutcomeKind = "fatal_failure"
)

// Outcome is what every adapter invocation returns. Adapters must map
// ambiguous downstream failures (timeouts, connection resets) to retryable:
// combined with lookup-then-act idempotency a lost response converges on
// the next attempt.
type Outcome struct {
	kind   OutcomeKind
	output map[string]any
	err    error
}

func Success(output map[string]any) Outcome {
	return Outcome{kind: KindSuccess, output: output}
}

func Retryable(err error) Outcome {
	return Outcome{kind: KindRetryable, err: err}
}

func Fatal(err error) Outcome {
	return Outcome{kind: KindFatal, err: err}
}

func (o Outcome) Kind() OutcomeKind      { return o.kind }
func (o Outcome) Succeeded() bool        { return o.kind == KindSuccess }
func (o Outcome) Output() map[string]any { return o.output }

// Err returns the failure wrapped into the taxonomy, or nil on success.
func (o Outcome) Err(adapterName string) error {
	switch o.kind {
	case KindRetryable:
		return errs.Retryable(o.err, adapterName)
	case KindFatal:
		return errs.Fatal(o.err, adapterName)
	default:
		return nil
	}
}

// Invocation carries everything an adapter may see about a step. The step
// index feeds the idempotency journal key.
type Invocation struct {
	TenantID    string
	ActorID     string
	ExecutionID api.ExecutionID
	StepIndex   int
	Input       map[string]any
}

// Adapter performs one kind of downstream interaction.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) Outcome
}

// Func adapts a plain function into an Adapter.
type Func struct {
	AdapterName string
	Fn          func(ctx context.Context, inv Invocation) Outcome
}

func (f Func) Name() string { return f.AdapterName }

func (f Func) Invoke(ctx context.Context, inv Invocation) Outcome {
	return f.Fn(ctx, inv)
}

type registration struct {
	adapter Adapter
	// direct marks adapters the gateway may invoke synchronously for
	// simple operations. Plan steps may use any registered adapter.
	direct bool
}

// Registry holds the adapters available to plans, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]registration)}
}

func (r *Registry) Register(a Adapter) error {
	return r.register(a, false)
}

// RegisterDirect registers an adapter that simple operations may call
// synchronously from the gateway, bypassing the coordinator.
func (r *Registry) RegisterDirect(a Adapter) error {
	return r.register(a, true)
}

func (r *Registry) register(a Adapter, direct bool) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[a.Name()]; dup {
		return fmt.Errorf("adapter already registered: %s", a.Name())
	}
	r.adapters[a.Name()] = registration{adapter: a, direct: direct}
	return nil
}

func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for %s", name)
	}
	return reg.adapter, nil
}

// LookupDirect resolves an adapter for synchronous gateway use. Adapters
// registered for plan steps only are not visible here.
func (r *Registry) LookupDirect(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[name]
	if !ok || !reg.direct {
		return nil, fmt.Errorf("no direct adapter registered for %s", name)
	}
	return reg.adapter, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
