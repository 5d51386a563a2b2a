// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agency turns a prompt into a crew run.
package agency

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/crew"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/guardrails"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/planner"
	"github.com/jllopis/agency/pkg/resilience"
	"github.com/jllopis/agency/pkg/telemetry"
)

// Runner executes a prompt. Service implements it.
type Runner interface {
	Run(ctx context.Context, prompt string) (*crew.Result, error)
}

// Service builds a fresh crew for every prompt and runs it.
type Service struct {
	mu             sync.RWMutex
	definition     crew.Definition
	binding        crew.Binding
	process        crew.Process
	maxDelegations int
	temperature    float64
	runTimeout     time.Duration
	guard          *guardrails.Guardrails
	audit          planner.AuditStore
	emitter        core.EventEmitter
	metrics        *telemetry.Metrics
	log            *slog.Logger
	tracer         trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithDefinition replaces the built-in roster.
func WithDefinition(def crew.Definition) Option {
	return func(s *Service) { s.definition = def }
}

// WithProcess overrides the process named by the definition.
func WithProcess(p crew.Process) Option {
	return func(s *Service) { s.process = p }
}

// WithMaxDelegations bounds manager delegations.
func WithMaxDelegations(n int) Option {
	return func(s *Service) { s.maxDelegations = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithRunTimeout bounds a whole run. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.runTimeout = d }
}

// WithGuardrails screens prompts before a crew is built.
func WithGuardrails(g *guardrails.Guardrails) Option {
	return func(s *Service) { s.guard = g }
}

// WithAuditStore records crew steps.
func WithAuditStore(a planner.AuditStore) Option {
	return func(s *Service) { s.audit = a }
}

// WithEventEmitter receives crew events.
func WithEventEmitter(e core.EventEmitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service whose agents all use provider and model.
func NewService(provider llm.Provider, model string, opts ...Option) *Service {
	s := &Service{
		definition: crew.DefaultDefinition(),
		binding:    crew.Binding{LLM: provider, Model: model},
		guard:      guardrails.New(guardrails.WithInputChecker(guardrails.NewLengthChecker(1, 20000))),
		log:        slog.Default(),
		tracer:     otel.Tracer("agency"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// SetDefinition swaps the roster used by subsequent runs.
// Runs already in flight keep the crew they were built with.
func (s *Service) SetDefinition(def crew.Definition) {
	s.mu.Lock()
	s.definition = def
	s.mu.Unlock()
}

// ReplaceDefinition builds a trial crew from def with the service's
// binding and options, and swaps it in only when that succeeds. On error the
// current definition stays in place.
func (s *Service) ReplaceDefinition(def crew.Definition) error {
	if _, err := def.Build("definition check", s.binding, s.crewOptions()...); err != nil {
		return err
	}
	s.SetDefinition(def)
	return nil
}

// Definition returns the roster used for new runs.
func (s *Service) Definition() crew.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.definition
}

// Audit returns the audit store, or nil when auditing is off.
func (s *Service) Audit() planner.AuditStore { return s.audit }

// Run validates prompt, builds a crew and kicks it off.
func (s *Service) Run(ctx context.Context, prompt string) (*crew.Result, error) {
	prompt = strings.TrimSpace(prompt)
	ctx, runID := core.EnsureRunID(ctx)
	def := s.Definition()

	ctx, span := s.tracer.Start(ctx, "Agency.Run", trace.WithAttributes(
		telemetry.RunAttributes(runID, string(s.process), len(def.Agents), 1)...,
	))
	defer span.End()

	fail := func(err error) (*crew.Result, error) {
		ae := errors.Classify(err).WithContext("run_id", runID)
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Code))
		return nil, ae
	}

	if s.guard != nil {
		if res := s.guard.CheckInput(ctx, prompt); res.Blocked {
			s.log.WarnContext(ctx, "agency.run.rejected",
				slog.String("run_id", runID),
				slog.String("guardrail", res.GuardrailID),
				slog.String("reason", res.Reason),
			)
			s.metrics.RecordError(ctx, errors.New(errors.CodeInvalidInput, res.Reason, nil), "guardrails")
			return fail(errors.New(errors.CodeInvalidInput, res.Reason, nil).
				WithAttribute("guardrail", res.GuardrailID))
		}
	}

	task := core.NewTask(prompt, def.Task.Agent)
	task.RunID = runID
	span.SetAttributes(telemetry.TaskAttributes(task.ID, task.Goal, string(task.Status))...)

	c, err := def.Build(prompt, s.binding, s.crewOptions()...)
	if err != nil {
		task.Fail(err.Error())
		return fail(err)
	}

	process := string(c.Process)
	s.log.InfoContext(ctx, "agency.run.start",
		slog.String("run_id", runID),
		slog.String("task_id", task.ID),
		slog.String("process", process),
		slog.Int("prompt_chars", len(prompt)),
	)
	s.metrics.RunStarted(ctx, process)
	task.Start()

	res, err := resilience.WithTimeout(ctx, s.runTimeout, c.Kickoff)
	s.metrics.RunFinished(ctx, process, time.Since(task.StartedAt), err)
	if err != nil {
		task.Fail(err.Error())
		ae := errors.Classify(err)
		s.log.ErrorContext(ctx, "agency.run.error",
			slog.String("run_id", runID),
			slog.String("code", string(ae.Code)),
			slog.String("error", err.Error()),
			slog.Duration("duration", task.Duration()),
		)
		return fail(ae)
	}

	task.Complete(res.Output)
	s.log.InfoContext(ctx, "agency.run.complete",
		slog.String("run_id", runID),
		slog.String("agent", res.Agent),
		slog.Int("steps", len(res.Steps)),
		slog.Int("tokens", res.Usage.TotalTokens),
		slog.Duration("duration", task.Duration()),
	)
	span.SetAttributes(telemetry.TaskAttributes(task.ID, "", string(task.Status))...)
	return res, nil
}

func (s *Service) crewOptions() []crew.Option {
	opts := []crew.Option{
		crew.WithTemperature(s.temperature),
		crew.WithLogger(s.log),
		crew.WithMetrics(s.metrics),
	}
	if s.process != "" {
		opts = append(opts, crew.WithProcess(s.process))
	}
	if s.maxDelegations > 0 {
		opts = append(opts, crew.WithMaxDelegations(s.maxDelegations))
	}
	if s.audit != nil {
		opts = append(opts, crew.WithAuditStore(s.audit))
	}
	if s.emitter != nil {
		opts = append(opts, crew.WithEventEmitter(s.emitter))
	}
	return opts
}

// Steps returns the audit trail of a run.
func (s *Service) Steps(ctx context.Context, runID string) ([]planner.AuditEvent, error) {
	if s.audit == nil {
		return nil, errors.New(errors.CodeNotFound, "audit is disabled", nil)
	}
	events, err := s.audit.List(ctx, planner.AuditFilter{RunID: runID})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "list audit events", err)
	}
	if len(events) == 0 {
		return nil, errors.New(errors.CodeNotFound, "run not found", nil).WithContext("run_id", runID)
	}
	return events, nil
}
