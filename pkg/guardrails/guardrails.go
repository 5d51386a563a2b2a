// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens prompts before they are handed to a crew.
//
// Checkers run in registration order and the first blocking result wins:
//
//	guard := guardrails.New(
//	    guardrails.WithInputChecker(guardrails.NewLengthChecker(1, 8000)),
//	    guardrails.WithPromptInjectionDetector(),
//	)
//	if res := guard.CheckInput(ctx, prompt); res.Blocked {
//	    return res.Reason
//	}
package guardrails

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CheckResult represents the outcome of a guardrail check.
type CheckResult struct {
	// Blocked indicates the content should not proceed.
	Blocked bool

	// Reason explains why content was blocked (empty if not blocked).
	Reason string

	// GuardrailID identifies which guardrail triggered the block.
	GuardrailID string

	// Confidence is the detection confidence (0.0-1.0).
	Confidence float64

	// Metadata contains additional context from the check.
	Metadata map[string]any
}

// InputChecker validates content before it reaches the crew.
type InputChecker interface {
	CheckInput(ctx context.Context, input string) CheckResult
	ID() string
}

// Guardrails runs a list of input checkers.
type Guardrails struct {
	inputCheckers []InputChecker
	failOpen      bool
}

// Option configures the Guardrails instance.
type Option func(*Guardrails)

// New creates a new Guardrails instance with the given options.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithInputChecker adds an input checker to the guardrails.
func WithInputChecker(checker InputChecker) Option {
	return func(g *Guardrails) {
		g.inputCheckers = append(g.inputCheckers, checker)
	}
}

// WithFailOpen lets content through when the check is cancelled.
// Default is fail-closed.
func WithFailOpen(failOpen bool) Option {
	return func(g *Guardrails) {
		g.failOpen = failOpen
	}
}

// CheckInput runs all input checkers and returns the first blocking result.
func (g *Guardrails) CheckInput(ctx context.Context, input string) CheckResult {
	for _, checker := range g.inputCheckers {
		if ctx.Err() != nil {
			if g.failOpen {
				return CheckResult{}
			}
			return CheckResult{Blocked: true, Reason: "guardrail check cancelled", GuardrailID: "system"}
		}

		result := checker.CheckInput(ctx, input)
		if result.Blocked {
			result.GuardrailID = checker.ID()
			return result
		}
	}
	return CheckResult{}
}

// Len returns the number of registered checkers.
func (g *Guardrails) Len() int { return len(g.inputCheckers) }

// LengthChecker bounds the prompt size in characters after trimming spaces.
type LengthChecker struct {
	Min int
	Max int
}

// NewLengthChecker returns a checker for prompts of min..max characters.
// A max of zero means unbounded.
func NewLengthChecker(min, max int) *LengthChecker {
	return &LengthChecker{Min: min, Max: max}
}

// ID returns the guardrail identifier.
func (l *LengthChecker) ID() string { return "length" }

// CheckInput implements InputChecker.
func (l *LengthChecker) CheckInput(_ context.Context, input string) CheckResult {
	n := utf8.RuneCountInString(strings.TrimSpace(input))
	switch {
	case n == 0 && l.Min > 0:
		return CheckResult{Blocked: true, Reason: "prompt must not be empty", Confidence: 1}
	case n < l.Min:
		return CheckResult{Blocked: true, Reason: fmt.Sprintf("prompt must have at least %d characters", l.Min), Confidence: 1}
	case l.Max > 0 && n > l.Max:
		return CheckResult{
			Blocked:    true,
			Reason:     fmt.Sprintf("prompt exceeds %d characters", l.Max),
			Confidence: 1,
			Metadata:   map[string]any{"length": n},
		}
	}
	return CheckResult{}
}
