package crewtest

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/crew"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/llm"
)

func TestHierarchicalScenario(t *testing.T) {
	provider := NewScenarioProvider().
		AddRoleResponse("Developer", "print('hello world')").
		AddRoleResponse("Manager", `{"action":"delegate","coworker":"Developer","task":"write it in python"}`).
		AddRoleResponse("Manager", `{"action":"final_answer","output":"print('hello world')"}`)
	events := &core.EventRecorder{}
	svc := agency.NewService(provider, "test-model", agency.WithEventEmitter(events))

	scenario := NewScenario("manager delegates once").
		WithPrompt("write hello world").
		WithEvents(events).
		ExpectNoError().
		ExpectOutput(Equals("print('hello world')")).
		ExpectAgent("Manager").
		ExpectSteps(3).
		ExpectDelegations(1).
		ExpectEvent(core.EventAgentDelegation).
		ExpectEvent(core.EventCrewCompleted).
		ExpectMaxDuration(5 * time.Second)

	scenario.Run(t, svc).Assert(t, scenario)

	if provider.Pending() != 0 {
		t.Fatalf("expected every scripted response to be used, %d left", provider.Pending())
	}
	dev := provider.RequestsFor("Developer")
	if len(dev) != 1 || dev[0].Messages[1].Content == "" {
		t.Fatalf("expected one developer request, got %d", len(dev))
	}
}

func TestSequentialScenario(t *testing.T) {
	provider := NewScenarioProvider().
		AddRoleResponse("Manager", "plan: one function").
		AddRoleResponse("Developer", "func hello() {}")
	svc := agency.NewService(provider, "test-model", agency.WithProcess(crew.ProcessSequential))

	scenario := NewScenario("every agent takes a turn").
		WithPrompt("write hello").
		ExpectOutput(HasPrefix("func hello")).
		ExpectAgent("Developer").
		ExpectSteps(2).
		ExpectDelegations(0)

	scenario.Run(t, svc).Assert(t, scenario)
}

func TestErrorScenarios(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		provider *ScenarioProvider
		code     errors.ErrorCode
	}{
		{
			name:     "empty prompt",
			prompt:   "   ",
			provider: NewScenarioProvider(),
			code:     errors.CodeInvalidInput,
		},
		{
			name:     "model rejects request",
			prompt:   "hi",
			provider: NewScenarioProvider().AddErrorResponse(&llm.ProviderError{Provider: "test", StatusCode: 401}),
			code:     errors.CodeLLMError,
		},
		{
			name:     "model rate limited",
			prompt:   "hi",
			provider: NewScenarioProvider().WithDefaultError(&llm.ProviderError{Provider: "test", StatusCode: 429}),
			code:     errors.CodeRateLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := NewScenario(tt.name).WithPrompt(tt.prompt).ExpectErrorCode(tt.code)
			scenario.Run(t, agency.NewService(tt.provider, "m")).Assert(t, scenario)
		})
	}
}

func TestScenarioTimeout(t *testing.T) {
	provider := NewScenarioProvider().WithChatFunc(func(llm.ChatRequest) (*llm.ChatResponse, error) {
		time.Sleep(200 * time.Millisecond)
		return &llm.ChatResponse{Content: "late"}, nil
	})
	svc := agency.NewService(provider, "m", agency.WithRunTimeout(20*time.Millisecond))

	scenario := NewScenario("slow model").
		WithPrompt("hi").
		ExpectErrorCode(errors.CodeTimeout)
	scenario.Run(t, svc).Assert(t, scenario)
}

func TestScenarioProvider(t *testing.T) {
	p := NewScenarioProvider().
		AddRoleResponse("Writer", "draft").
		AddResponse("anyone")

	editor := llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleSystem, Content: "You are Editor. Picky"}}}
	writer := llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleSystem, Content: "You are Writer.\nYour personal goal is: write"}}}

	resp, err := p.Chat(context.Background(), editor)
	if err != nil || resp.Content != "anyone" {
		t.Fatalf("expected unconditioned response for editor, got %v %v", resp, err)
	}
	resp, err = p.Chat(context.Background(), writer)
	if err != nil || resp.Content != "draft" {
		t.Fatalf("expected writer response, got %v %v", resp, err)
	}
	if _, err := p.Chat(context.Background(), writer); err == nil {
		t.Fatalf("expected exhausted script to fail")
	}
	if p.CallCount() != 3 || len(p.RequestsFor("Writer")) != 2 {
		t.Fatalf("unexpected request capture: %d", p.CallCount())
	}

	p.Reset()
	if p.Pending() != 2 || p.CallCount() != 0 {
		t.Fatalf("expected reset script")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Chat(ctx, writer); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestRoleOf(t *testing.T) {
	tests := []struct {
		system string
		role   string
	}{
		{"You are Crew Manager.\nYour personal goal is: x", "Crew Manager"},
		{"You are Developer. Expert", "Developer"},
		{"Be helpful", ""},
	}
	for _, tt := range tests {
		req := llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleSystem, Content: tt.system}}}
		if got := RoleOf(req); got != tt.role {
			t.Errorf("RoleOf(%q) = %q, want %q", tt.system, got, tt.role)
		}
	}
}

func TestMatchers(t *testing.T) {
	tests := []struct {
		m    StringMatcher
		in   string
		want bool
	}{
		{Contains("ell"), "hello", true},
		{Equals("hello"), "hello!", false},
		{HasPrefix("he"), "hello", true},
		{Regex(`^h\w+o$`), "hello", true},
		{Regex(`(`), "hello", false},
	}
	for _, tt := range tests {
		if got := tt.m.Match(tt.in); got != tt.want {
			t.Errorf("%s on %q = %v", tt.m.Description(), tt.in, got)
		}
	}
}
