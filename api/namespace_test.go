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

import (
	"strings"
	"testing"
)

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		wantErr   bool
	}{
		{"empty is default", "", false},
		{"simple", "prod", false},
		{"with hyphen", "team-a", false},
		{"with digits", "env42", false},
		{"uppercase rejected", "Prod", true},
		{"leading hyphen", "-prod", true},
		{"trailing hyphen", "prod-", true},
		{"underscore rejected", "team_a", true},
		{"too long", strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.namespace)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNamespace(%q) error = %v, wantErr %v", tt.namespace, err, tt.wantErr)
			}
		})
	}
}

func TestNamesPrefixing(t *testing.T) {
	n := Names{Namespace: "team-a"}

	if got := n.HistoryStream(); got != "TEAM_A_EXECUTION_HISTORY" {
		t.Errorf("HistoryStream() = %q", got)
	}
	if got := n.TasksStream(); got != "TEAM_A_EXECUTION_TASKS" {
		t.Errorf("TasksStream() = %q", got)
	}
	if got := n.HistorySubject("abc"); got != "team-a.history.abc" {
		t.Errorf("HistorySubject() = %q", got)
	}
	if got := n.TaskSubject("abc"); got != "team-a.execution.abc.tasks" {
		t.Errorf("TaskSubject() = %q", got)
	}
	if got := n.Bucket("execution-status"); got != "team-a-execution-status" {
		t.Errorf("Bucket() = %q", got)
	}

	bare := Names{}
	if got := bare.HistoryStream(); got != "EXECUTION_HISTORY" {
		t.Errorf("bare HistoryStream() = %q", got)
	}
	if got := bare.HistorySubject("abc"); got != "history.abc" {
		t.Errorf("bare HistorySubject() = %q", got)
	}
	if got := bare.HistoryFilter(); got != "history.>" {
		t.Errorf("bare HistoryFilter() = %q", got)
	}
}
