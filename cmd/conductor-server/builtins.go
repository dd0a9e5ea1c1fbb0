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
	"fmt"
	"sync"

	"github.com/tidemark-io/conductor/internal/server/adapter"
	"github.com/tidemark-io/conductor/internal/server/saga"
)

// builtins wires the reference plans and adapters the binary ships with.
// They operate on in-process state and exist so a fresh deployment has
// something to route to; real deployments register their own.
func builtins() (*saga.PlanRegistry, *adapter.Registry, error) {
	adapters := adapter.NewRegistry()
	dir := newDirectory()

	for _, a := range []adapter.Adapter{
		adapter.Func{AdapterName: "provision_account", Fn: dir.provision},
		adapter.Func{AdapterName: "deprovision_account", Fn: dir.deprovision},
		adapter.Func{AdapterName: "allocate_resources", Fn: dir.allocate},
		adapter.Func{AdapterName: "release_resources", Fn: dir.release},
		adapter.Func{AdapterName: "publish_welcome", Fn: dir.welcome},
	} {
		if err := adapters.Register(a); err != nil {
			return nil, nil, err
		}
	}
	if err := adapters.RegisterDirect(adapter.Func{
		AdapterName: "tenant_directory",
		Fn:          dir.lookup,
	}); err != nil {
		return nil, nil, err
	}

	plans := saga.NewPlanRegistry()
	err := plans.Register(saga.Plan{
		Operation: "create_tenant",
		Steps: []saga.Step{
			{
				Name:       "provision-account",
				Adapter:    "provision_account",
				Compensate: "deprovision_account",
				Resource:   "tenant",
				Action:     "create",
			},
			{
				Name:       "allocate-resources",
				Adapter:    "allocate_resources",
				Compensate: "release_resources",
				Resource:   "resources",
				Action:     "allocate",
				Input: func(input map[string]any, outputs map[int]map[string]any) map[string]any {
					return map[string]any{
						"account_id": outputs[0]["account_id"],
						"plan":       input["plan"],
					}
				},
			},
			{
				Name:     "publish-welcome",
				Adapter:  "publish_welcome",
				Resource: "notifications",
				Action:   "publish",
				Input: func(input map[string]any, outputs map[int]map[string]any) map[string]any {
					return map[string]any{
						"account_id": outputs[0]["account_id"],
						"email":      input["email"],
					}
				},
			},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return plans, adapters, nil
}

// directory is the in-process backing store for the reference adapters.
type directory struct {
	mu       sync.Mutex
	accounts map[string]map[string]any
	// provisioned keys accounts by the invocation that created them, so a
	// redelivered step finds its earlier work instead of allocating twice.
	provisioned map[string]string
	next        int
}

func newDirectory() *directory {
	return &directory{
		accounts:    make(map[string]map[string]any),
		provisioned: make(map[string]string),
	}
}

func invocationKey(inv adapter.Invocation) string {
	return fmt.Sprintf("%s/%d", inv.ExecutionID, inv.StepIndex)
}

func (d *directory) provision(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	name, _ := inv.Input["name"].(string)
	if name == "" {
		return adapter.Fatal(fmt.Errorf("account name is required"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Lookup-then-act: the same (execution, step) provisions at most once.
	key := invocationKey(inv)
	if id, done := d.provisioned[key]; done {
		return adapter.Success(map[string]any{"account_id": id})
	}

	d.next++
	id := fmt.Sprintf("acct-%s-%d", inv.TenantID, d.next)
	d.accounts[id] = map[string]any{"name": name, "tenant": inv.TenantID}
	d.provisioned[key] = id
	return adapter.Success(map[string]any{"account_id": id})
}

func (d *directory) deprovision(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	id, _ := inv.Input["account_id"].(string)

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, id)
	return adapter.Success(map[string]any{"account_id": id})
}

func (d *directory) allocate(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	id, _ := inv.Input["account_id"].(string)

	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[id]
	if !ok {
		return adapter.Retryable(fmt.Errorf("account %s not yet visible", id))
	}
	acct["plan"] = inv.Input["plan"]
	return adapter.Success(map[string]any{"account_id": id, "allocated": true})
}

func (d *directory) release(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	id, _ := inv.Input["account_id"].(string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if acct, ok := d.accounts[id]; ok {
		delete(acct, "plan")
	}
	return adapter.Success(map[string]any{"account_id": id})
}

func (d *directory) welcome(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	id, _ := inv.Input["account_id"].(string)
	return adapter.Success(map[string]any{"account_id": id, "notified": true})
}

func (d *directory) lookup(_ context.Context, inv adapter.Invocation) adapter.Outcome {
	id, _ := inv.Input["id"].(string)

	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[id]
	if !ok {
		return adapter.Fatal(fmt.Errorf("no account %s", id))
	}
	out := map[string]any{"account_id": id}
	for k, v := range acct {
		out[k] = v
	}
	return adapter.Success(out)
}
