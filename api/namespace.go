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
	"fmt"
	"strings"
)

// Names derives stream and subject names for one deployment namespace, so
// several conductor deployments can share a NATS cluster. An empty
// namespace yields the bare defaults.
type Names struct {
	Namespace string
}

// ValidateNamespace checks that a namespace is a DNS-safe label.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return nil
	}
	if len(namespace) > 63 {
		return fmt.Errorf("namespace too long (max 63 characters): %s", namespace)
	}
	if !isAlphaNumeric(namespace[0]) || !isAlphaNumeric(namespace[len(namespace)-1]) {
		return fmt.Errorf("namespace must start and end alphanumeric: %s", namespace)
	}
	for i := 0; i < len(namespace); i++ {
		if !isAlphaNumeric(namespace[i]) && namespace[i] != '-' {
			return fmt.Errorf("namespace must be DNS-safe (lowercase letters, numbers, hyphens): %s", namespace)
		}
	}
	return nil
}

func isAlphaNumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func (n Names) prefix(name string) string {
	if n.Namespace == "" {
		return name
	}
	return strings.ToUpper(strings.ReplaceAll(n.Namespace, "-", "_")) + "_" + name
}

func (n Names) HistoryStream() string { return n.prefix(ExecutionHistoryStream) }
func (n Names) TasksStream() string   { return n.prefix(ExecutionTasksStream) }

func (n Names) subjectPrefix() string {
	if n.Namespace == "" {
		return ""
	}
	return n.Namespace + "."
}

// HistorySubject returns the subject history events for one execution are
// published on.
func (n Names) HistorySubject(id ExecutionID) string {
	return n.subjectPrefix() + fmt.Sprintf(HistoryPublishSubjectPattern, id)
}

// HistoryFilter matches all history subjects in the namespace.
func (n Names) HistoryFilter() string {
	return n.subjectPrefix() + HistoryFilterSubjectPattern
}

// TaskSubject returns the work-queue subject for one execution.
func (n Names) TaskSubject(id ExecutionID) string {
	return n.subjectPrefix() + fmt.Sprintf(ExecutionTaskSubjectPattern, id)
}

// TasksFilter matches all execution task subjects in the namespace.
func (n Names) TasksFilter() string {
	return n.subjectPrefix() + ExecutionTasksFilterSubjectPattern
}

// Bucket prefixes a KV bucket name with the namespace.
func (n Names) Bucket(name string) string {
	if n.Namespace == "" {
		return name
	}
	return n.Namespace + "-" + name
}
