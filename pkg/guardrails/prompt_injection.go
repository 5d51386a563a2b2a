// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// PromptInjectionDetector flags prompts that try to override the crew's
// instructions or extract its system prompts.
type PromptInjectionDetector struct {
	patterns  []*regexp.Regexp
	threshold float64
}

// PromptInjectionOption configures the prompt injection detector.
type PromptInjectionOption func(*PromptInjectionDetector)

var defaultInjectionPatterns = []string{
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)(what\s+(is|are)|show\s+me|reveal|print|display)\s+your\s+(system\s+)?(prompt|instructions?|backstory)`,
	`(?i)you\s+are\s+no\s+longer\s+(the\s+)?(manager|developer|agent)`,
	`(?i)do\s+anything\s+now`,
	`(?i)\bDAN\s+mode\b`,
	`(?i)jailbreak`,
	`(?i)bypass\s+(safety|content|filter|guardrails?)`,
	`(?i)(developer|sudo|admin)\s+mode`,
	`(?i)\]\]\s*system\s*:`,
	`<\|[^|]*\|>`,
	`(?i)\[/?INST\]`,
	`(?i)<</?SYS>>`,
}

// NewPromptInjectionDetector creates a detector with the default patterns.
func NewPromptInjectionDetector(opts ...PromptInjectionOption) *PromptInjectionDetector {
	d := &PromptInjectionDetector{}
	for _, pattern := range defaultInjectionPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile(pattern))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPatterns adds custom patterns; invalid expressions are skipped.
func WithInjectionPatterns(patterns ...string) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		for _, pattern := range patterns {
			if re, err := regexp.Compile(pattern); err == nil {
				d.patterns = append(d.patterns, re)
			}
		}
	}
}

// WithInjectionThreshold sets the minimum confidence that blocks a prompt.
func WithInjectionThreshold(threshold float64) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// ID returns the guardrail identifier.
func (d *PromptInjectionDetector) ID() string {
	return "prompt-injection"
}

// CheckInput analyzes input for prompt injection attempts.
// One match scores 0.7 and every further match adds 0.1.
func (d *PromptInjectionDetector) CheckInput(ctx context.Context, input string) CheckResult {
	if input == "" {
		return CheckResult{}
	}

	var matched []string
	for _, pattern := range d.patterns {
		if ctx.Err() != nil {
			return CheckResult{}
		}
		if pattern.MatchString(input) {
			matched = append(matched, pattern.String())
		}
	}
	if len(matched) == 0 {
		return CheckResult{}
	}

	confidence := min(0.7+float64(len(matched)-1)*0.1, 1.0)
	if confidence < d.threshold {
		return CheckResult{Confidence: confidence}
	}
	return CheckResult{
		Blocked:    true,
		Reason:     "potential prompt injection detected",
		Confidence: confidence,
		Metadata: map[string]any{
			"matched_patterns": matched,
			"match_count":      len(matched),
		},
	}
}

// WithPromptInjectionDetector returns an option that adds prompt injection detection.
func WithPromptInjectionDetector(opts ...PromptInjectionOption) Option {
	return WithInputChecker(NewPromptInjectionDetector(opts...))
}
