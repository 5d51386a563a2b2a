// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
)

var knownProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
	"mock":      true,
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		add("server.max_concurrent_runs must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes must be positive")
	}

	validateLLM(c.LLM.Provider, c.LLM.Model, c.LLM.APIKey, "llm", add)
	if c.LLM.Fallback.Provider != "" {
		validateLLM(c.LLM.Fallback.Provider, c.LLM.Fallback.Model, c.LLM.Fallback.APIKey, "llm.fallback", add)
	}
	if c.LLM.Timeout <= 0 {
		add("llm.timeout must be positive")
	}
	if c.LLM.Retry.MaxAttempts <= 0 {
		add("llm.retry.max_attempts must be positive")
	}
	if c.LLM.Breaker.FailureThreshold <= 0 || c.LLM.Breaker.SuccessThreshold <= 0 {
		add("llm.breaker thresholds must be positive")
	}

	switch c.Crew.Process {
	case "sequential", "hierarchical":
	default:
		add("crew.process must be sequential or hierarchical, got %q", c.Crew.Process)
	}
	if c.Crew.MaxDelegations <= 0 {
		add("crew.max_delegations must be positive")
	}
	if c.Crew.RunTimeout <= 0 {
		add("crew.run_timeout must be positive")
	}
	if c.Guardrails.MaxPromptChars <= 0 {
		add("guardrails.max_prompt_chars must be positive")
	}

	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		add("telemetry.exporter must be none, stdout or otlp, got %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio must be between 0 and 1, got %v", c.Telemetry.SampleRatio)
	}
	return errors.Join(errs...)
}

func validateLLM(provider, model, apiKey, prefix string, add func(string, ...any)) {
	if !knownProviders[provider] {
		add("%s.provider %q is not supported", prefix, provider)
		return
	}
	switch provider {
	case "gemini", "openai", "anthropic":
		if apiKey == "" {
			add("%s.api_key is required for provider %s", prefix, provider)
		}
	case "ollama":
		if model == "" {
			add("%s.model is required for provider ollama", prefix)
		}
	}
}
