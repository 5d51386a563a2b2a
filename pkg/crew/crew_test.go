package crew

import (
	"context"
	"strings"
	"testing"

	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/planner"
)

func roster(p llm.Provider, roles ...string) []*Agent {
	agents := make([]*Agent, 0, len(roles))
	for _, r := range roles {
		agents = append(agents, &Agent{ID: slug(r), Role: r, Goal: r + " goal", LLM: p, Model: "test-model"})
	}
	return agents
}

func TestParseProcess(t *testing.T) {
	tests := []struct {
		in      string
		want    Process
		wantErr bool
	}{
		{"sequential", ProcessSequential, false},
		{" Hierarchical ", ProcessHierarchical, false},
		{"parallel", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProcess(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	p := llm.NewScriptedMockProvider()
	agents := roster(p, "Manager", "Developer")
	task := &Task{Description: "build it", Agent: agents[1]}
	outsider := &Agent{Role: "Outsider", LLM: p}

	tests := []struct {
		name   string
		agents []*Agent
		tasks  []*Task
		opts   []Option
		want   string
	}{
		{"no agents", nil, []*Task{task}, nil, "at least one agent"},
		{"no tasks", agents, nil, nil, "at least one task"},
		{"no role", []*Agent{{LLM: p}}, []*Task{{Description: "x"}}, nil, "has no role"},
		{"no binding", []*Agent{{Role: "Dev"}}, []*Task{{Description: "x"}}, nil, "no model binding"},
		{"duplicate role", roster(p, "Dev", "dev"), []*Task{{Description: "x"}}, nil, "duplicate agent role"},
		{"empty task", agents, []*Task{{Description: "  "}}, nil, "has no description"},
		{"foreign assignee", agents, []*Task{{Description: "x", Agent: outsider}}, nil, "not in the crew"},
		{"unknown process", agents, []*Task{task}, []Option{WithProcess("parallel")}, "unknown process"},
		{"hierarchical without manager", agents, []*Task{task}, []Option{WithProcess(ProcessHierarchical)}, "requires a manager"},
		{
			"manager assigned",
			agents,
			[]*Task{{Description: "x", Agent: agents[0]}},
			[]Option{WithProcess(ProcessHierarchical), WithManager(agents[0])},
			"assigned to the manager",
		},
		{
			"no specialists",
			agents[:1],
			[]*Task{{Description: "x"}},
			[]Option{WithProcess(ProcessHierarchical), WithManager(agents[0])},
			"at least one agent besides the manager",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.agents, tt.tasks, tt.opts...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if errors.CodeOf(err) != errors.CodeCrewError {
				t.Fatalf("expected CREW_ERROR, got %s", errors.CodeOf(err))
			}
		})
	}
}

func TestSequentialLastAgentProducesOutput(t *testing.T) {
	p := llm.NewScriptedMockProvider("research notes", "draft", "final code")
	agents := roster(p, "Researcher", "Writer", "Developer")
	c, err := New(agents, []*Task{{Description: "ship a feature", ExpectedOutput: "Final solution"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Output != "final code" || res.Agent != "Developer" {
		t.Fatalf("expected final output from Developer, got %q from %q", res.Output, res.Agent)
	}
	if res.Status != StatusSuccess || res.Process != ProcessSequential {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(res.Steps))
	}
	for i, role := range []string{"Researcher", "Writer", "Developer"} {
		if res.Steps[i].Agent != role {
			t.Fatalf("step %d: expected %s, got %s", i, role, res.Steps[i].Agent)
		}
	}
	if res.Usage.TotalTokens != 60 {
		t.Fatalf("expected accumulated usage, got %+v", res.Usage)
	}

	reqs := p.Requests()
	if strings.Contains(reqs[0].Messages[1].Content, "context you're working with") {
		t.Fatalf("first agent must not receive context")
	}
	last := reqs[2].Messages[1].Content
	for _, want := range []string{"ship a feature", "Final solution", "## Researcher\nresearch notes", "## Writer\ndraft"} {
		if !strings.Contains(last, want) {
			t.Fatalf("last prompt missing %q:\n%s", want, last)
		}
	}
	if !strings.Contains(reqs[2].Messages[0].Content, "You are Developer.") {
		t.Fatalf("expected persona system prompt, got %q", reqs[2].Messages[0].Content)
	}
}

func TestSequentialAuditTrail(t *testing.T) {
	p := llm.NewScriptedMockProvider("a", "b")
	store := planner.NewMemoryAuditStore()
	c, err := New(roster(p, "Lead Engineer", "Developer"), []*Task{{Description: "x"}}, WithAuditStore(store))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := core.WithRunID(context.Background(), "run-seq")
	if _, err := c.Kickoff(ctx); err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	events, _ := store.List(context.Background(), planner.AuditFilter{RunID: "run-seq"})
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].NodeID != "t0-lead-engineer-0" || events[1].NodeID != "t0-developer-1" {
		t.Fatalf("unexpected node ids: %s, %s", events[0].NodeID, events[1].NodeID)
	}
}

func TestSequentialFailureIsClassified(t *testing.T) {
	p := llm.NewScriptedMockProvider("only one answer")
	c, err := New(roster(p, "A", "B"), []*Task{{Description: "x"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Err = &llm.ProviderError{Provider: "mock", StatusCode: 503, Message: "overloaded"}
	_, err = c.Kickoff(context.Background())
	ae := errors.AsAgencyError(err)
	if ae.Code != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR, got %v", err)
	}
	if _, ok := ae.Context["run_id"]; !ok {
		t.Fatalf("expected run id on error context")
	}
}

func TestEmptyOutputFails(t *testing.T) {
	p := llm.NewScriptedMockProvider("   ")
	c, err := New(roster(p, "Solo"), []*Task{{Description: "x"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.Kickoff(context.Background())
	if errors.CodeOf(err) != errors.CodeLLMError || !strings.Contains(err.Error(), "empty output") {
		t.Fatalf("expected empty output error, got %v", err)
	}
}

func newHierarchical(t *testing.T, p llm.Provider, opts ...Option) *Crew {
	t.Helper()
	agents := roster(p, "Manager", "Developer", "Tester")
	base := []Option{WithProcess(ProcessHierarchical), WithManager(agents[0])}
	c, err := New(agents, []*Task{{Description: "write a parser", ExpectedOutput: "Final solution", Agent: agents[1]}}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestHierarchicalDelegatesAndManagerAnswers(t *testing.T) {
	p := llm.NewScriptedMockProvider(
		`{"action":"delegate","coworker":"Developer","task":"implement the parser","context":"use Go"}`,
		"func Parse() {}",
		"```json\n{\"action\":\"delegate\",\"coworker\":\"tester\",\"task\":\"review it\"}\n```",
		"looks good",
		`{"action":"final_answer","output":"func Parse() {} // reviewed"}`,
	)
	rec := &core.EventRecorder{}
	c := newHierarchical(t, p, WithEventEmitter(rec))

	res, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Output != "func Parse() {} // reviewed" || res.Agent != "Manager" {
		t.Fatalf("unexpected result %q from %q", res.Output, res.Agent)
	}

	var delegated []string
	for _, s := range res.Steps {
		if s.Delegated {
			if s.Agent == "Manager" {
				t.Fatalf("manager must never be a delegate")
			}
			delegated = append(delegated, s.Agent)
		}
	}
	if strings.Join(delegated, ",") != "Developer,Tester" {
		t.Fatalf("unexpected delegates: %v", delegated)
	}

	reqs := p.Requests()
	if !reqs[0].JSONMode || reqs[1].JSONMode {
		t.Fatalf("expected JSON mode only for manager turns")
	}
	if !strings.Contains(reqs[1].Messages[1].Content, "implement the parser") || !strings.Contains(reqs[1].Messages[1].Content, "use Go") {
		t.Fatalf("delegate prompt missing instructions: %s", reqs[1].Messages[1].Content)
	}
	if !strings.Contains(reqs[4].Messages[1].Content, "## Tester\nlooks good") {
		t.Fatalf("manager should see the transcript: %s", reqs[4].Messages[1].Content)
	}

	count := 0
	for _, ev := range rec.Events() {
		if ev.Type == core.EventAgentDelegation {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 delegation events, got %d", count)
	}
}

func TestHierarchicalFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		output    string
		delegate  string
	}{
		{
			name:      "unknown coworker goes to assignee",
			responses: []string{`{"action":"delegate","coworker":"Designer"}`, "dev work", `{"action":"final_answer","output":"done"}`},
			output:    "done",
			delegate:  "Developer",
		},
		{
			name:      "manager named as coworker goes to assignee",
			responses: []string{`{"action":"delegate","coworker":"Manager","task":"t"}`, "dev work", `{"action":"final_answer","output":"done"}`},
			output:    "done",
			delegate:  "Developer",
		},
		{
			name:      "unparseable first answer delegates",
			responses: []string{"let me think", "dev work", `{"action":"final_answer","output":"ok"}`},
			output:    "ok",
			delegate:  "Developer",
		},
		{
			name:      "unparseable later answer is final",
			responses: []string{`{"action":"delegate","coworker":"Tester"}`, "tests pass", "Here is the result."},
			output:    "Here is the result.",
			delegate:  "Tester",
		},
		{
			name:      "empty final answer uses specialist output",
			responses: []string{`{"action":"delegate","coworker":"Developer"}`, "dev work", `{"action":"final_answer","output":""}`},
			output:    "dev work",
			delegate:  "Developer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := llm.NewScriptedMockProvider(tt.responses...)
			res, err := newHierarchical(t, p).Kickoff(context.Background())
			if err != nil {
				t.Fatalf("kickoff: %v", err)
			}
			if res.Output != tt.output {
				t.Fatalf("expected %q, got %q", tt.output, res.Output)
			}
			var got string
			for _, s := range res.Steps {
				if s.Delegated {
					got = s.Agent
				}
			}
			if got != tt.delegate {
				t.Fatalf("expected delegate %s, got %s", tt.delegate, got)
			}
		})
	}
}

func TestHierarchicalDelegationBudget(t *testing.T) {
	delegate := `{"action":"delegate","coworker":"Developer","task":"again"}`
	p := llm.NewScriptedMockProvider(
		delegate, "v1",
		delegate, "v2",
		`{"action":"delegate","coworker":"Developer"}`,
	)
	res, err := newHierarchical(t, p, WithMaxDelegations(2)).Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Output != "v2" {
		t.Fatalf("expected last specialist output, got %q", res.Output)
	}
	if p.CallCount() != 5 {
		t.Fatalf("expected 5 calls, got %d", p.CallCount())
	}
	forced := p.Requests()[4].Messages[1].Content
	if !strings.Contains(forced, "cannot delegate any more") {
		t.Fatalf("expected forced final answer prompt: %s", forced)
	}
}

func TestHierarchicalSynthesizedManager(t *testing.T) {
	workers := llm.NewScriptedMockProvider("work")
	boss := llm.NewScriptedMockProvider(
		`{"action":"delegate","coworker":"Developer"}`,
		`{"action":"final_answer","output":"shipped"}`,
	)
	agents := roster(workers, "Developer")
	c, err := New(agents, []*Task{{Description: "x"}},
		WithProcess(ProcessHierarchical), WithManagerLLM(boss, "boss-model"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Output != "shipped" || res.Agent != "Crew Manager" {
		t.Fatalf("unexpected result %q from %q", res.Output, res.Agent)
	}
	if boss.Requests()[0].Model != "boss-model" {
		t.Fatalf("expected manager model, got %q", boss.Requests()[0].Model)
	}
}

func TestHierarchicalAuditAndManagerFailure(t *testing.T) {
	p := llm.NewScriptedMockProvider(`{"action":"delegate","coworker":"Developer"}`, "work")
	store := planner.NewMemoryAuditStore()
	c := newHierarchical(t, p, WithAuditStore(store))
	ctx := core.WithRunID(context.Background(), "run-h")

	_, err := c.Kickoff(ctx)
	if err == nil {
		t.Fatalf("expected failure once the script runs out")
	}
	events, _ := store.List(context.Background(), planner.AuditFilter{RunID: "run-h"})
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
	if events[0].NodeType != nodeTypeManager || events[1].NodeType != nodeTypeDelegate {
		t.Fatalf("unexpected node types: %+v", events)
	}
	if events[2].Status != planner.StatusFailed {
		t.Fatalf("expected failed manager event, got %s", events[2].Status)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		raw    string
		valid  bool
		action string
	}{
		{`{"action":"final_answer","output":"x"}`, true, actionFinalAnswer},
		{"Sure!\n{\"action\":\"DELEGATE\",\"coworker\":\"Dev\"}\nThanks", true, actionDelegate},
		{`{"action":"shrug"}`, false, "shrug"},
		{`{"action":`, false, ""},
		{"no json here", false, ""},
	}
	for _, tt := range tests {
		d := parseDecision(tt.raw)
		if d.valid != tt.valid || d.Action != tt.action {
			t.Errorf("parseDecision(%q) = %+v", tt.raw, d)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Developer":       "developer",
		"Lead  Engineer!": "lead-engineer",
		"QA / Test":       "qa-test",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
