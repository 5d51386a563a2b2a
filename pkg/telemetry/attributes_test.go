// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestRunAttributes(t *testing.T) {
	m := attrMap(RunAttributes("run-1", "hierarchical", 2, 1))
	if m[AttrRunID].AsString() != "run-1" {
		t.Errorf("expected run id")
	}
	if m[AttrCrewProcess].AsString() != "hierarchical" {
		t.Errorf("expected process")
	}
	if m[AttrCrewAgents].AsInt64() != 2 || m[AttrCrewTasks].AsInt64() != 1 {
		t.Errorf("expected agent and task counts")
	}

	m = attrMap(RunAttributes("run-2", "sequential", 0, 0))
	if _, ok := m[AttrCrewAgents]; ok {
		t.Errorf("zero counts must be omitted")
	}
}

func TestAgentAttributes(t *testing.T) {
	tests := []struct {
		name  string
		role  string
		model string
		step  int
		want  int
	}{
		{"role only", "Developer", "", 0, 1},
		{"with model", "Developer", "gemini-2.0-flash", 0, 2},
		{"full", "Manager", "gemini-2.0-flash", 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgentAttributes(tt.role, tt.model, tt.step); len(got) != tt.want {
				t.Errorf("expected %d attributes, got %d", tt.want, len(got))
			}
		})
	}
}

func TestLLMUsageAttributes(t *testing.T) {
	m := attrMap(LLMUsageAttributes(10, 5, 12.5))
	if m[AttrLLMTokensTotal].AsInt64() != 15 {
		t.Errorf("expected total tokens 15, got %d", m[AttrLLMTokensTotal].AsInt64())
	}
	if len(LLMUsageAttributes(0, 0, 0)) != 0 {
		t.Errorf("expected no attributes for empty usage")
	}
}

func TestTaskAttributesTruncatesGoal(t *testing.T) {
	m := attrMap(TaskAttributes("t1", strings.Repeat("x", 500), "running"))
	if got := m[AttrTaskGoal].AsString(); len(got) != 203 {
		t.Errorf("expected truncated goal of 203 bytes, got %d", len(got))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel..."},
		{"héllo", 2, "hé..."},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
