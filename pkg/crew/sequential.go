package crew

import (
	"context"
	"fmt"

	"github.com/jllopis/agency/pkg/planner"
)

const nodeTypeAgent = "agent"

// nodeID names the j-th step of task i, e.g. "t0-developer-1".
func nodeID(task int, role string, j int) string {
	return fmt.Sprintf("t%d-%s-%d", task, slug(role), j)
}

type stepRef struct {
	task  *Task
	agent *Agent
}

// sequential runs every roster agent in declaration order over the task.
// Each agent sees the outputs of the agents before it.
func (r *runState) sequential(ctx context.Context, index int, task *Task) (string, string, error) {
	c := r.crew
	nodes := make([]planner.Node, 0, len(c.Agents))
	for j, a := range c.Agents {
		nodes = append(nodes, planner.Node{
			ID:       nodeID(index, a.Role, j),
			Type:     nodeTypeAgent,
			Input:    stepRef{task: task, agent: a},
			Metadata: map[string]string{"role": a.Role},
		})
	}
	graph := planner.NewLinearGraph(fmt.Sprintf("%s-task-%d", r.runID, index), nodes...)

	first := len(r.steps)
	exec := planner.NewExecutor(map[string]planner.Handler{
		nodeTypeAgent: func(ctx context.Context, node planner.Node, _ *planner.State) (any, error) {
			ref := node.Input.(stepRef)
			transcript := r.steps[first:]
			if len(transcript) == 0 && r.previous != "" {
				transcript = []StepResult{{Agent: "previous task", Output: r.previous}}
			}
			return r.call(ctx, ref.agent, personaPrompt(ref.agent),
				taskPrompt(ref.task.Description, ref.task.ExpectedOutput, transcript), false, false)
		},
	})
	if c.audit != nil {
		exec.WithAudit(c.audit)
	}

	state, err := exec.Execute(ctx, graph, nil)
	if err != nil {
		return "", "", err
	}
	out, _ := state.Last.(string)
	return out, c.Agents[len(c.Agents)-1].Role, nil
}
