package crew

import (
	"time"

	"github.com/jllopis/agency/pkg/llm"
)

// Result statuses.
const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// StepResult attributes one model turn to the agent that produced it.
type StepResult struct {
	Agent      string    `json:"agent"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Delegated is set when a manager handed the step to the agent.
	Delegated bool `json:"delegated,omitempty"`
}

// Result is the outcome of a kickoff.
type Result struct {
	Status  string       `json:"status"`
	Output  string       `json:"output"`
	Agent   string       `json:"agent"`
	RunID   string       `json:"run_id"`
	Process Process      `json:"process"`
	Steps   []StepResult `json:"steps"`
	Usage   llm.Usage    `json:"usage"`
}

// LastStep returns the most recent step, if any.
func (r *Result) LastStep() (StepResult, bool) {
	if r == nil || len(r.Steps) == 0 {
		return StepResult{}, false
	}
	return r.Steps[len(r.Steps)-1], true
}
