package crew

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/agency/pkg/llm"
)

func TestDefaultDefinitionBuildsHierarchicalCrew(t *testing.T) {
	p := llm.NewScriptedMockProvider(
		`{"action":"delegate","coworker":"Developer","task":"write hello world"}`,
		`fmt.Println("hello")`,
		`{"action":"final_answer","output":"fmt.Println(\"hello\")"}`,
	)
	c, err := DefaultDefinition().Build("  write hello world  ", Binding{LLM: p, Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Process != ProcessHierarchical || c.Manager == nil || c.Manager.Role != "Manager" {
		t.Fatalf("unexpected crew: process=%s manager=%v", c.Process, c.Manager)
	}
	if c.Tasks[0].Description != "write hello world" || c.Tasks[0].ExpectedOutput != "Final solution" {
		t.Fatalf("unexpected task: %+v", c.Tasks[0])
	}
	if c.Tasks[0].Agent.Role != "Developer" {
		t.Fatalf("expected developer assignee, got %s", c.Tasks[0].Agent.Role)
	}

	res, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Output != `fmt.Println("hello")` {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if p.Requests()[0].Model != "gemini-2.0-flash" {
		t.Fatalf("expected manager on the shared model, got %q", p.Requests()[0].Model)
	}
	sys := p.Requests()[0].Messages[0].Content
	if !strings.Contains(sys, "You are Manager. CEO") || !strings.Contains(sys, "- Developer: Write clean code") {
		t.Fatalf("unexpected manager prompt: %s", sys)
	}
}

func TestDefinitionProcessOverride(t *testing.T) {
	p := llm.NewScriptedMockProvider("plan", "code")
	c, err := DefaultDefinition().Build("x", Binding{LLM: p}, WithProcess(ProcessSequential))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("kickoff: %v", err)
	}
	if res.Agent != "Developer" || res.Output != "code" {
		t.Fatalf("expected developer to finish, got %q from %q", res.Output, res.Agent)
	}
}

func TestParseDefinition(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "valid",
			yaml: `
process: sequential
agents:
  - id: analyst
    role: Analyst
    model: gemini-2.5-pro
  - id: writer
    role: Writer
task:
  expected_output: A report
  agent: writer
`,
		},
		{name: "no agents", yaml: "process: sequential\n", want: "no agents"},
		{name: "bad process", yaml: "process: parallel\nagents: [{id: a, role: A}]\n", want: "unknown process"},
		{name: "missing id", yaml: "agents: [{role: A}]\n", want: "has no id"},
		{name: "duplicate id", yaml: "agents: [{id: a, role: A}, {id: a, role: B}]\n", want: "duplicate agent id"},
		{name: "unknown manager", yaml: "manager: boss\nagents: [{id: a, role: A}]\n", want: "manager \"boss\""},
		{name: "unknown task agent", yaml: "agents: [{id: a, role: A}]\ntask: {agent: b}\n", want: "task agent \"b\""},
		{
			name: "manager owns the task",
			yaml: "process: hierarchical\nmanager: boss\nagents: [{id: boss, role: Boss}, {id: dev, role: Dev}]\ntask: {agent: boss}\n",
			want: "is the manager",
		},
		{
			name: "manager alone",
			yaml: "process: hierarchical\nmanager: boss\nagents: [{id: boss, role: Boss}]\n",
			want: "besides manager",
		},
		{name: "not yaml", yaml: "agents: [", want: "parse crew definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(tt.yaml))
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(def.Agents) != 2 || def.Agents[0].Model != "gemini-2.5-pro" || def.Task.ExpectedOutput != "A report" {
					t.Fatalf("unexpected definition: %+v", def)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDefinitionAgentModelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	data := "process: sequential\nagents:\n  - {id: a, role: A, model: special}\n  - {id: b, role: B}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, err := def.Build("x", Binding{LLM: llm.NewScriptedMockProvider(), Model: "default"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Agents[0].Model != "special" || c.Agents[1].Model != "default" {
		t.Fatalf("unexpected models: %s, %s", c.Agents[0].Model, c.Agents[1].Model)
	}

	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
