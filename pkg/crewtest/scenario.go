// Package crewtest provides utilities for testing crews end to end.
//
// A Scenario sends one prompt to an agency.Runner and checks the result:
//
//	provider := crewtest.NewScenarioProvider().
//	    AddRoleResponse("Manager", `{"action":"delegate","coworker":"Developer"}`).
//	    AddRoleResponse("Developer", "print('hi')").
//	    AddRoleResponse("Manager", `{"action":"final_answer","output":"print('hi')"}`)
//
//	scenario := crewtest.NewScenario("delegates once").
//	    WithPrompt("write hello world").
//	    ExpectOutput(crewtest.Contains("print")).
//	    ExpectDelegations(1)
//
//	scenario.Run(t, agency.NewService(provider, "test-model")).Assert(t, scenario)
package crewtest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/crew"
	"github.com/jllopis/agency/pkg/errors"
)

// Scenario defines one prompt and what the run must look like.
type Scenario struct {
	name         string
	prompt       string
	context      context.Context
	timeout      time.Duration
	events       *core.EventRecorder
	expectations []Expectation
}

// Expectation is a condition checked against a ScenarioResult.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Result   *crew.Result
	Error    error
	Events   []core.Event
	Duration time.Duration
}

// Output returns the final answer, or "" when the run failed.
func (r *ScenarioResult) Output() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.Output
}

// NewScenario creates a scenario with a 30s timeout.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithPrompt sets the prompt sent to the runner.
func (s *Scenario) WithPrompt(prompt string) *Scenario {
	s.prompt = prompt
	return s
}

// WithContext sets the parent context, for example one carrying a run id.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithEvents attaches the recorder the runner emits to, so event
// expectations can be checked. Wire the same recorder into the service
// with agency.WithEventEmitter.
func (s *Scenario) WithEvents(rec *core.EventRecorder) *Scenario {
	s.events = rec
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutput checks the final answer.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectNoError expects a successful run.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(noErrorExpectation{})
}

// ExpectErrorCode expects the run to fail with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(errorCodeExpectation{code: code})
}

// ExpectAgent expects role to have produced the final answer.
func (s *Scenario) ExpectAgent(role string) *Scenario {
	return s.Expect(agentExpectation{role: role})
}

// ExpectSteps expects exactly n model turns.
func (s *Scenario) ExpectSteps(n int) *Scenario {
	return s.Expect(stepsExpectation{n: n})
}

// ExpectDelegations expects exactly n delegated steps.
func (s *Scenario) ExpectDelegations(n int) *Scenario {
	return s.Expect(delegationsExpectation{n: n})
}

// ExpectEvent expects at least one event of the given type.
func (s *Scenario) ExpectEvent(eventType core.EventType) *Scenario {
	return s.Expect(eventExpectation{eventType: eventType})
}

// ExpectMaxDuration expects the run to finish within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(maxDurationExpectation{max: d})
}

// Run sends the prompt to runner.
func (s *Scenario) Run(t *testing.T, runner agency.Runner) *ScenarioResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := runner.Run(ctx, s.prompt)
	out := &ScenarioResult{Result: res, Error: err, Duration: time.Since(start)}
	if s.events != nil {
		out.Events = s.events.Events()
	}
	return out
}

// Assert checks every expectation and reports failures to t.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

type matcherFunc struct {
	match func(string) bool
	desc  string
}

func (m matcherFunc) Match(s string) bool  { return m.match(s) }
func (m matcherFunc) Description() string { return m.desc }

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.Contains(s, substr) }, fmt.Sprintf("contains %q", substr)}
}

// Equals matches s exactly.
func Equals(expected string) StringMatcher {
	return matcherFunc{func(s string) bool { return s == expected }, fmt.Sprintf("equals %q", expected)}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return matcherFunc{func(s string) bool { return strings.HasPrefix(s, prefix) }, fmt.Sprintf("has prefix %q", prefix)}
}

// Regex matches against pattern. An invalid pattern never matches.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return matcherFunc{func(s string) bool { return err == nil && re.MatchString(s) }, fmt.Sprintf("matches regex %q", pattern)}
}

type outputExpectation struct {
	matcher StringMatcher
}

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result: %v", r.Error)
	}
	if !e.matcher.Match(r.Result.Output) {
		return fmt.Errorf("output %q does not match: %s", r.Result.Output, e.matcher.Description())
	}
	return nil
}

func (e *outputExpectation) Description() string {
	return "output " + e.matcher.Description()
}

type noErrorExpectation struct{}

func (noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (noErrorExpectation) Description() string { return "no error" }

type errorCodeExpectation struct {
	code errors.ErrorCode
}

func (e errorCodeExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected %s, got success", e.code)
	}
	if got := errors.CodeOf(r.Error); got != e.code {
		return fmt.Errorf("expected %s, got %s (%v)", e.code, got, r.Error)
	}
	return nil
}

func (e errorCodeExpectation) Description() string { return "error code " + string(e.code) }

type agentExpectation struct {
	role string
}

func (e agentExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result: %v", r.Error)
	}
	if r.Result.Agent != e.role {
		return fmt.Errorf("final answer from %q", r.Result.Agent)
	}
	return nil
}

func (e agentExpectation) Description() string { return "answered by " + e.role }

type stepsExpectation struct {
	n int
}

func (e stepsExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result: %v", r.Error)
	}
	if len(r.Result.Steps) != e.n {
		return fmt.Errorf("got %d steps", len(r.Result.Steps))
	}
	return nil
}

func (e stepsExpectation) Description() string { return fmt.Sprintf("%d steps", e.n) }

type delegationsExpectation struct {
	n int
}

func (e delegationsExpectation) Check(r *ScenarioResult) error {
	if r.Result == nil {
		return fmt.Errorf("no result: %v", r.Error)
	}
	got := 0
	for _, step := range r.Result.Steps {
		if step.Delegated {
			got++
		}
	}
	if got != e.n {
		return fmt.Errorf("got %d delegations", got)
	}
	return nil
}

func (e delegationsExpectation) Description() string { return fmt.Sprintf("%d delegations", e.n) }

type eventExpectation struct {
	eventType core.EventType
}

func (e eventExpectation) Check(r *ScenarioResult) error {
	for _, ev := range r.Events {
		if ev.Type == e.eventType {
			return nil
		}
	}
	return fmt.Errorf("no %s event among %d", e.eventType, len(r.Events))
}

func (e eventExpectation) Description() string { return "event " + string(e.eventType) }

type maxDurationExpectation struct {
	max time.Duration
}

func (e maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %s", r.Duration)
	}
	return nil
}

func (e maxDurationExpectation) Description() string { return "within " + e.max.String() }
