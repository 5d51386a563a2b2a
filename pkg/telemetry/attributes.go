// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for crew observability.
package telemetry

import (
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for agency telemetry.
const (
	// Run attributes
	AttrRunID       = "agency.run.id"
	AttrRunStatus   = "agency.run.status"
	AttrCrewProcess = "agency.crew.process"
	AttrCrewAgents  = "agency.crew.agents"
	AttrCrewTasks   = "agency.crew.tasks"

	// Agent attributes
	AttrAgentRole  = "agency.agent.role"
	AttrAgentModel = "agency.agent.model"
	AttrAgentStep  = "agency.agent.step"

	// Delegation attributes
	AttrDelegationFrom  = "agency.delegation.from"
	AttrDelegationTo    = "agency.delegation.to"
	AttrDelegationCount = "agency.delegation.count"

	// Task attributes
	AttrTaskID     = "agency.task.id"
	AttrTaskGoal   = "agency.task.goal"
	AttrTaskStatus = "agency.task.status"

	// LLM attributes (gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
	AttrLLMAttempt      = "gen_ai.attempt"
)

// RunAttributes returns common attributes for crew run spans.
func RunAttributes(runID, process string, agents, tasks int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrCrewProcess, process),
	}
	if agents > 0 {
		attrs = append(attrs, attribute.Int(AttrCrewAgents, agents))
	}
	if tasks > 0 {
		attrs = append(attrs, attribute.Int(AttrCrewTasks, tasks))
	}
	return attrs
}

// AgentAttributes returns attributes for a single agent step.
func AgentAttributes(role, model string, step int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrAgentRole, role)}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	if step > 0 {
		attrs = append(attrs, attribute.Int(AttrAgentStep, step))
	}
	return attrs
}

// DelegationAttributes returns attributes for a manager delegation.
func DelegationAttributes(from, to string, count int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDelegationFrom, from),
		attribute.String(AttrDelegationTo, to),
		attribute.Int(AttrDelegationCount, count),
	}
}

// TaskAttributes returns attributes for task tracking.
func TaskAttributes(taskID, goal, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if goal != "" {
		attrs = append(attrs, attribute.String(AttrTaskGoal, Truncate(goal, 200)))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

// Truncate shortens s to at most max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
