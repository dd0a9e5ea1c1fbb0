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

// Package classify routes inbound operations. Every request gets exactly
// one classification: simple operations are proxied synchronously, complex
// ones become durable executions. Anything unroutable is rejected before it
// can touch downstream state.
package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/internal/server/errs"
)

// Kind is the classification of one operation.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindComplex Kind = "complex"
)

// Rule maps one (method, path pattern) to an operation. Path patterns use
// ":name" segments as single-segment wildcards.
type Rule struct {
	Method    string `yaml:"method"`
	Path      string `yaml:"path"`
	Operation string `yaml:"operation"`
	Kind      Kind   `yaml:"kind"`
	Resource  string `yaml:"resource"`
	Action    string `yaml:"action"`
	// Adapter is the downstream adapter invoked directly for simple
	// operations. Complex operations name their adapters per step in the
	// plan instead.
	Adapter string `yaml:"adapter,omitempty"`

	segments []string
}

// Decision is the outcome of classifying one request.
type Decision struct {
	Operation string
	Kind      Kind
	Resource  string
	Action    string
	Adapter   string
	// PathParams holds the values bound to ":name" segments.
	PathParams map[string]string
}

// Table is an immutable, validated routing table. Reloads swap whole
// tables; a table never mutates after Load.
type Table struct {
	rules []Rule
}

type tableFile struct {
	Rules []Rule `yaml:"rules"`
}

// Parse validates raw YAML into a Table.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("routing table has no rules")
	}
	for i := range file.Rules {
		r := &file.Rules[i]
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%s %s): %w", i, r.Method, r.Path, err)
		}
		r.Method = strings.ToUpper(r.Method)
		r.segments = splitPath(r.Path)
	}
	return &Table{rules: file.Rules}, nil
}

// Load reads and parses a routing table file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing table: %w", err)
	}
	return Parse(data)
}

func validateRule(r *Rule) error {
	switch {
	case r.Method == "":
		return fmt.Errorf("missing method")
	case !strings.HasPrefix(r.Path, "/"):
		return fmt.Errorf("path must start with /")
	case r.Operation == "":
		return fmt.Errorf("missing operation")
	case r.Resource == "" || r.Action == "":
		return fmt.Errorf("missing resource or action")
	}
	switch r.Kind {
	case KindSimple:
		if r.Adapter == "" {
			return fmt.Errorf("simple rule needs an adapter")
		}
	case KindComplex:
		if r.Adapter != "" {
			return fmt.Errorf("complex rule must not name an adapter")
		}
	case "":
		// Unstated kind resolves simple.
		r.Kind = KindSimple
		if r.Adapter == "" {
			return fmt.Errorf("simple rule needs an adapter")
		}
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	return nil
}

// Classify resolves a request against the table. When several rules match,
// the one with the fewest wildcard segments wins; a remaining tie resolves
// to the simple rule.
func (t *Table) Classify(req api.OperationRequest) (Decision, error) {
	if req.Method == "" || req.Path == "" {
		return Decision{}, errs.Classification("request needs a method and a path")
	}
	if req.TenantID == "" || req.ActorID == "" {
		return Decision{}, errs.Classification("request needs a tenant id and an actor id")
	}

	segments := splitPath(req.Path)
	method := strings.ToUpper(req.Method)

	var (
		best       *Rule
		bestParams map[string]string
		bestWild   int
	)
	for i := range t.rules {
		r := &t.rules[i]
		if r.Method != method {
			continue
		}
		params, wild, ok := matchSegments(r.segments, segments)
		if !ok {
			continue
		}
		if best == nil || wild < bestWild || (wild == bestWild && r.Kind == KindSimple && best.Kind == KindComplex) {
			best, bestParams, bestWild = r, params, wild
		}
	}
	if best == nil {
		return Decision{}, errs.Classification(
			fmt.Sprintf("no route for %s %s", method, req.Path))
	}

	if best.Kind == KindComplex && req.IdempotencyKey == "" {
		return Decision{}, errs.Classification(
			fmt.Sprintf("operation %s requires an idempotency key", best.Operation))
	}

	return Decision{
		Operation:  best.Operation,
		Kind:       best.Kind,
		Resource:   best.Resource,
		Action:     best.Action,
		Adapter:    best.Adapter,
		PathParams: bestParams,
	}, nil
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func matchSegments(pattern, path []string) (params map[string]string, wildcards int, ok bool) {
	if len(pattern) != len(path) {
		return nil, 0, false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return nil, 0, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = path[i]
			wildcards++
			continue
		}
		if seg != path[i] {
			return nil, 0, false
		}
	}
	return params, wildcards, true
}
