package crew

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/agency/pkg/llm"
)

// Definition describes a roster and its task template in YAML.
//
//	process: hierarchical
//	manager: manager
//	agents:
//	  - id: developer
//	    role: Developer
//	    goal: Write clean code
//	    backstory: Expert
//	task:
//	  expected_output: Final solution
//	  agent: developer
type Definition struct {
	Process        string            `yaml:"process"`
	Manager        string            `yaml:"manager"`
	MaxDelegations int               `yaml:"max_delegations"`
	Agents         []AgentDefinition `yaml:"agents"`
	Task           TaskDefinition    `yaml:"task"`
}

// AgentDefinition is one roster entry.
type AgentDefinition struct {
	ID        string `yaml:"id"`
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
	// Model overrides the default model for this agent.
	Model string `yaml:"model"`
}

// TaskDefinition is the template for the task built from each prompt.
type TaskDefinition struct {
	ExpectedOutput string `yaml:"expected_output"`
	Agent          string `yaml:"agent"`
}

// DefaultDefinition returns the built-in two-agent roster.
func DefaultDefinition() Definition {
	return Definition{
		Process: string(ProcessHierarchical),
		Manager: "manager",
		Agents: []AgentDefinition{
			{ID: "manager", Role: "Manager", Goal: "Oversee project", Backstory: "CEO"},
			{ID: "developer", Role: "Developer", Goal: "Write clean code", Backstory: "Expert"},
		},
		Task: TaskDefinition{ExpectedOutput: "Final solution", Agent: "developer"},
	}
}

// ParseDefinition decodes a YAML definition and validates it.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse crew definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadDefinition reads a YAML definition from path.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read crew definition: %w", err)
	}
	return ParseDefinition(data)
}

// Validate checks ids and references. Model bindings are checked by Build.
func (d Definition) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("crew definition has no agents")
	}
	var process Process
	if d.Process != "" {
		p, err := ParseProcess(d.Process)
		if err != nil {
			return err
		}
		process = p
	}
	ids := make(map[string]bool, len(d.Agents))
	for i, a := range d.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if a.Role == "" {
			return fmt.Errorf("agent %q has no role", a.ID)
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		ids[a.ID] = true
	}
	if d.Manager != "" && !ids[d.Manager] {
		return fmt.Errorf("manager %q is not a defined agent", d.Manager)
	}
	if d.Task.Agent != "" && !ids[d.Task.Agent] {
		return fmt.Errorf("task agent %q is not a defined agent", d.Task.Agent)
	}
	if process == ProcessHierarchical && d.Manager != "" {
		if d.Task.Agent == d.Manager {
			return fmt.Errorf("task agent %q is the manager of a hierarchical crew", d.Task.Agent)
		}
		if len(d.Agents) < 2 {
			return fmt.Errorf("hierarchical crew needs at least one agent besides manager %q", d.Manager)
		}
	}
	return nil
}

// Binding is the model every agent of a definition is bound to.
type Binding struct {
	LLM   llm.Provider
	Model string
}

// Build creates a fresh crew for prompt. Options are applied after the
// definition, so they override its process and delegation budget.
func (d Definition) Build(prompt string, b Binding, opts ...Option) (*Crew, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	byID := make(map[string]*Agent, len(d.Agents))
	agents := make([]*Agent, 0, len(d.Agents))
	for _, ad := range d.Agents {
		model := b.Model
		if ad.Model != "" {
			model = ad.Model
		}
		a := &Agent{
			ID:        ad.ID,
			Role:      ad.Role,
			Goal:      ad.Goal,
			Backstory: ad.Backstory,
			LLM:       b.LLM,
			Model:     model,
		}
		byID[ad.ID] = a
		agents = append(agents, a)
	}

	task := &Task{
		Description:    strings.TrimSpace(prompt),
		ExpectedOutput: d.Task.ExpectedOutput,
		Agent:          byID[d.Task.Agent],
	}

	base := []Option{WithManagerLLM(b.LLM, b.Model)}
	if d.Process != "" {
		p, _ := ParseProcess(d.Process)
		base = append(base, WithProcess(p))
	}
	if d.Manager != "" {
		base = append(base, WithManager(byID[d.Manager]))
	}
	if d.MaxDelegations > 0 {
		base = append(base, WithMaxDelegations(d.MaxDelegations))
	}
	return New(agents, []*Task{task}, append(base, opts...)...)
}
