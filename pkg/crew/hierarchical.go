package crew

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/planner"
	"github.com/jllopis/agency/pkg/telemetry"
)

// Manager decision actions.
const (
	actionDelegate    = "delegate"
	actionFinalAnswer = "final_answer"
)

const (
	nodeTypeManager  = "manager"
	nodeTypeDelegate = "delegate"
)

// decision is a parsed manager answer.
type decision struct {
	Action   string
	Coworker string
	Task     string
	Context  string
	Output   string
	valid    bool
}

// parseDecision extracts the first JSON object from a manager answer.
// Models often wrap JSON in prose or code fences.
func parseDecision(raw string) decision {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return decision{}
	}
	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return decision{}
	}
	res := gjson.Parse(body)
	d := decision{
		Action:   strings.ToLower(strings.TrimSpace(res.Get("action").String())),
		Coworker: strings.TrimSpace(res.Get("coworker").String()),
		Task:     strings.TrimSpace(res.Get("task").String()),
		Context:  strings.TrimSpace(res.Get("context").String()),
		Output:   strings.TrimSpace(res.Get("output").String()),
	}
	d.valid = d.Action == actionDelegate || d.Action == actionFinalAnswer
	return d
}

// manager returns the configured manager or a synthesized one.
func (c *Crew) manager() *Agent {
	if c.Manager != nil {
		return c.Manager
	}
	return &Agent{
		ID:        "crew-manager",
		Role:      "Crew Manager",
		Goal:      "Coordinate the team to deliver the expected output",
		Backstory: "You are a seasoned manager who knows how to get the best out of every coworker.",
		LLM:       c.ManagerLLM,
		Model:     c.ManagerModel,
	}
}

// resolveCoworker maps a role named by the manager onto a specialist.
// Unknown names fall back to the task assignee, then the first specialist.
func resolveCoworker(name string, task *Task, specialists []*Agent) *Agent {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		for _, a := range specialists {
			if strings.ToLower(a.Role) == name || strings.ToLower(a.ID) == name {
				return a
			}
		}
	}
	if task.Agent != nil {
		for _, a := range specialists {
			if a == task.Agent {
				return a
			}
		}
	}
	return specialists[0]
}

// hierarchical consults the manager until it returns a final answer or the
// delegation budget runs out.
func (r *runState) hierarchical(ctx context.Context, index int, task *Task) (string, string, error) {
	c := r.crew
	mgr := c.manager()
	specialists := c.specialists()
	system := managerSystemPrompt(mgr, specialists)
	graphID := r.runID + "-hierarchical"

	var transcript []StepResult
	lastSpecialist := ""
	for delegations := 0; ; delegations++ {
		remaining := c.MaxDelegations - delegations
		user := managerTaskPrompt(task.Description, task.ExpectedOutput, r.previous, transcript, remaining)
		started := time.Now().UTC()
		raw, err := r.call(ctx, mgr, system, user, true, false)
		r.record(ctx, graphID, nodeTypeManager, index, mgr.Role, raw, err, started)
		if err != nil {
			return "", mgr.Role, err
		}

		d := parseDecision(raw)
		switch {
		case d.valid && d.Action == actionFinalAnswer:
			out := d.Output
			if out == "" {
				out = lastSpecialist
			}
			return out, mgr.Role, nil
		case remaining <= 0:
			// Forced final answer that is still not one.
			if d.valid && d.Output != "" {
				return d.Output, mgr.Role, nil
			}
			if lastSpecialist != "" {
				return lastSpecialist, mgr.Role, nil
			}
			return raw, mgr.Role, nil
		case !d.valid && len(transcript) > 0:
			return raw, mgr.Role, nil
		}

		// Delegate, either explicitly or because the answer was unusable.
		worker := resolveCoworker(d.Coworker, task, specialists)
		instructions := d.Task
		if instructions == "" {
			instructions = task.Description
		}
		out, err := r.delegate(ctx, graphID, index, mgr, worker, instructions, d.Context, task.ExpectedOutput, delegations+1)
		if err != nil {
			return "", worker.Role, err
		}
		transcript = append(transcript, StepResult{Agent: worker.Role, Output: out})
		lastSpecialist = out
	}
}

func (r *runState) delegate(ctx context.Context, graphID string, index int, mgr, worker *Agent, instructions, extra, expected string, count int) (string, error) {
	c := r.crew
	ctx, span := c.tracer.Start(ctx, "Crew.Delegate", trace.WithAttributes(
		telemetry.DelegationAttributes(mgr.Role, worker.Role, count)...,
	))
	defer span.End()

	c.emitter.Emit(ctx, core.NewEvent(core.EventAgentDelegation, mgr.Role, r.runID, map[string]any{
		"coworker": worker.Role,
		"task":     telemetry.Truncate(instructions, 200),
		"count":    count,
	}))
	c.metrics.RecordDelegation(ctx, worker.Role)
	c.log.InfoContext(ctx, "crew.delegation",
		slog.String("run_id", r.runID),
		slog.String("manager", mgr.Role),
		slog.String("coworker", worker.Role),
		slog.Int("count", count),
	)

	started := time.Now().UTC()
	out, err := r.call(ctx, worker, personaPrompt(worker), delegatedTaskPrompt(instructions, extra, expected), false, true)
	r.record(ctx, graphID, nodeTypeDelegate, index, worker.Role, out, err, started)
	return out, err
}

// record mirrors planner audit events for hierarchical steps.
func (r *runState) record(ctx context.Context, graphID, nodeType string, index int, role, out string, err error, started time.Time) {
	if r.crew.audit == nil {
		return
	}
	ev := planner.AuditEvent{
		GraphID:    graphID,
		RunID:      r.runID,
		NodeID:     nodeID(index, role, len(r.steps)),
		NodeType:   nodeType,
		Status:     planner.StatusCompleted,
		Output:     out,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		ev.Status = planner.StatusFailed
		ev.Error = err.Error()
		ev.Output = nil
	}
	if recErr := r.crew.audit.Record(context.WithoutCancel(ctx), ev); recErr != nil {
		r.crew.log.WarnContext(ctx, "crew.audit.error", slog.String("error", recErr.Error()))
	}
}
