// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package crew runs a roster of role-described agents over a task, either
// sequentially or under a delegating manager.
package crew

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/planner"
	"github.com/jllopis/agency/pkg/telemetry"
)

// Process selects how a crew executes its tasks.
type Process string

const (
	// ProcessSequential runs every agent in declaration order, each one
	// seeing the outputs of the previous ones.
	ProcessSequential Process = "sequential"
	// ProcessHierarchical lets a manager delegate to specialists and
	// produce the final answer.
	ProcessHierarchical Process = "hierarchical"
)

// DefaultMaxDelegations bounds manager delegations per task.
const DefaultMaxDelegations = 3

// ParseProcess parses a process name, case-insensitively.
func ParseProcess(s string) (Process, error) {
	switch Process(strings.ToLower(strings.TrimSpace(s))) {
	case ProcessSequential:
		return ProcessSequential, nil
	case ProcessHierarchical:
		return ProcessHierarchical, nil
	default:
		return "", fmt.Errorf("unknown process %q", s)
	}
}

// Agent is a role-described actor bound to a model.
type Agent struct {
	ID        string
	Role      string
	Goal      string
	Backstory string
	LLM       llm.Provider
	Model     string
}

// Task is a unit of work for the crew.
type Task struct {
	Description    string
	ExpectedOutput string
	// Agent is the assignee. Optional in sequential mode.
	Agent *Agent
}

// Crew holds a roster, its tasks and the execution policy.
type Crew struct {
	Agents  []*Agent
	Tasks   []*Task
	Process Process
	// Manager supervises hierarchical runs. When nil a manager is
	// synthesized from ManagerLLM.
	Manager        *Agent
	ManagerLLM     llm.Provider
	ManagerModel   string
	MaxDelegations int
	Temperature    float64

	emitter core.EventEmitter
	metrics *telemetry.Metrics
	audit   planner.AuditStore
	log     *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Crew.
type Option func(*Crew)

// WithProcess sets the execution process.
func WithProcess(p Process) Option {
	return func(c *Crew) { c.Process = p }
}

// WithManager designates a roster agent (or an external one) as manager.
func WithManager(a *Agent) Option {
	return func(c *Crew) { c.Manager = a }
}

// WithManagerLLM binds the synthesized manager to a model.
func WithManagerLLM(p llm.Provider, model string) Option {
	return func(c *Crew) {
		c.ManagerLLM = p
		c.ManagerModel = model
	}
}

// WithMaxDelegations bounds manager delegations per task.
func WithMaxDelegations(n int) Option {
	return func(c *Crew) { c.MaxDelegations = n }
}

// WithTemperature sets the sampling temperature for every call.
func WithTemperature(t float64) Option {
	return func(c *Crew) { c.Temperature = t }
}

// WithEventEmitter receives crew lifecycle events.
func WithEventEmitter(e core.EventEmitter) Option {
	return func(c *Crew) { c.emitter = e }
}

// WithMetrics records delegations and errors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Crew) { c.metrics = m }
}

// WithAuditStore records one audit event per step.
func WithAuditStore(s planner.AuditStore) Option {
	return func(c *Crew) { c.audit = s }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crew) { c.log = l }
}

// New assembles a crew and validates it.
func New(agents []*Agent, tasks []*Task, opts ...Option) (*Crew, error) {
	c := &Crew{
		Agents:         agents,
		Tasks:          tasks,
		Process:        ProcessSequential,
		MaxDelegations: DefaultMaxDelegations,
		emitter:        core.NoopEventEmitter{},
		log:            slog.Default(),
		tracer:         otel.Tracer("agency/crew"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.emitter == nil {
		c.emitter = core.NoopEventEmitter{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.MaxDelegations <= 0 {
		c.MaxDelegations = DefaultMaxDelegations
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func crewError(format string, args ...any) *errors.AgencyError {
	return errors.New(errors.CodeCrewError, fmt.Sprintf(format, args...), nil)
}

// Validate checks the roster, the tasks and the process constraints.
func (c *Crew) Validate() error {
	if len(c.Agents) == 0 {
		return crewError("crew needs at least one agent")
	}
	if len(c.Tasks) == 0 {
		return crewError("crew needs at least one task")
	}

	roles := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a == nil {
			return crewError("agent %d is nil", i)
		}
		if strings.TrimSpace(a.Role) == "" {
			return crewError("agent %d has no role", i)
		}
		if a.LLM == nil {
			return crewError("agent %q has no model binding", a.Role)
		}
		key := strings.ToLower(a.Role)
		if roles[key] {
			return crewError("duplicate agent role %q", a.Role)
		}
		roles[key] = true
	}

	for i, t := range c.Tasks {
		if t == nil || strings.TrimSpace(t.Description) == "" {
			return crewError("task %d has no description", i)
		}
		if t.Agent != nil && !c.inRoster(t.Agent) {
			return crewError("task %d is assigned to %q, which is not in the crew", i, t.Agent.Role)
		}
	}

	switch c.Process {
	case ProcessSequential:
		return nil
	case ProcessHierarchical:
	default:
		return crewError("unknown process %q", c.Process)
	}

	if c.Manager == nil && c.ManagerLLM == nil {
		return crewError("hierarchical process requires a manager or a manager model")
	}
	if c.Manager != nil && c.Manager.LLM == nil {
		return crewError("manager %q has no model binding", c.Manager.Role)
	}
	for i, t := range c.Tasks {
		if c.Manager != nil && t.Agent == c.Manager {
			return crewError("task %d is assigned to the manager %q", i, c.Manager.Role)
		}
	}
	if len(c.specialists()) == 0 {
		return crewError("hierarchical process requires at least one agent besides the manager")
	}
	return nil
}

func (c *Crew) inRoster(a *Agent) bool {
	for _, member := range c.Agents {
		if member == a {
			return true
		}
	}
	return false
}

// specialists returns the roster minus the manager.
func (c *Crew) specialists() []*Agent {
	out := make([]*Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		if c.Manager != nil && a == c.Manager {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Kickoff runs every task and returns the result of the last one.
func (c *Crew) Kickoff(ctx context.Context) (*Result, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := c.tracer.Start(ctx, "Crew.Kickoff", trace.WithAttributes(
		telemetry.RunAttributes(runID, string(c.Process), len(c.Agents), len(c.Tasks))...,
	))
	defer span.End()

	c.emitter.Emit(ctx, core.NewEvent(core.EventCrewStarted, "", runID, map[string]any{
		"process": string(c.Process),
		"agents":  len(c.Agents),
		"tasks":   len(c.Tasks),
	}))

	run := &runState{crew: c, runID: runID}
	var (
		out   string
		agent string
		err   error
	)
	for i, task := range c.Tasks {
		switch c.Process {
		case ProcessHierarchical:
			out, agent, err = run.hierarchical(ctx, i, task)
		default:
			out, agent, err = run.sequential(ctx, i, task)
		}
		if err != nil {
			break
		}
		if strings.TrimSpace(out) == "" {
			err = errors.New(errors.CodeLLMError, "empty output", nil)
			break
		}
		run.previous = out
	}

	if err != nil {
		ae := errors.Classify(err).
			WithContext("run_id", runID).
			WithContext("steps", run.steps)
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Code))
		c.metrics.RecordError(ctx, ae, "crew")
		c.emitter.Emit(ctx, core.NewEvent(core.EventAgentError, agent, runID, map[string]any{
			"code":  string(ae.Code),
			"error": ae.Error(),
		}))
		return nil, ae
	}

	res := &Result{
		Status:  StatusSuccess,
		Output:  strings.TrimSpace(out),
		Agent:   agent,
		RunID:   runID,
		Process: c.Process,
		Steps:   run.steps,
		Usage:   run.usage,
	}
	c.emitter.Emit(ctx, core.NewEvent(core.EventCrewCompleted, agent, runID, map[string]any{
		"steps": len(run.steps),
	}))
	return res, nil
}

// runState carries the transcript of a single kickoff.
type runState struct {
	crew     *Crew
	runID    string
	steps    []StepResult
	usage    llm.Usage
	previous string
}

// call runs one agent turn and records it.
func (r *runState) call(ctx context.Context, a *Agent, system, user string, jsonMode, delegated bool) (string, error) {
	c := r.crew
	step := len(r.steps) + 1
	ctx, span := c.tracer.Start(ctx, "Crew.Step", trace.WithAttributes(
		telemetry.AgentAttributes(a.Role, a.Model, step)...,
	))
	defer span.End()

	c.emitter.Emit(ctx, core.NewEvent(core.EventAgentTaskStarted, a.Role, r.runID, map[string]any{"step": step}))
	started := time.Now().UTC()
	resp, err := a.LLM.Chat(ctx, llm.ChatRequest{
		Model: a.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: c.Temperature,
		JSONMode:    jsonMode,
	})
	if err != nil {
		ae := errors.Classify(err).WithContext("agent", a.Role)
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Code))
		c.log.ErrorContext(ctx, "crew.step.error",
			slog.String("run_id", r.runID),
			slog.String("agent", a.Role),
			slog.String("code", string(ae.Code)),
			slog.String("error", err.Error()),
		)
		return "", ae
	}

	out := strings.TrimSpace(resp.Content)
	r.usage.Add(resp.Usage)
	r.steps = append(r.steps, StepResult{
		Agent:      a.Role,
		Input:      user,
		Output:     out,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Delegated:  delegated,
	})
	c.emitter.Emit(ctx, core.NewEvent(core.EventAgentTaskCompleted, a.Role, r.runID, map[string]any{
		"step":      step,
		"delegated": delegated,
	}))
	c.log.InfoContext(ctx, "crew.step.complete",
		slog.String("run_id", r.runID),
		slog.String("agent", a.Role),
		slog.Int("step", step),
		slog.Int("output_chars", len(out)),
	)
	return out, nil
}
