package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response, Usage: mockUsage}, nil
}

var mockUsage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}

// ScriptedMockProvider returns a pre-defined sequence of responses and
// records every request it receives.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	responses []string
	requests  []ChatRequest
	// Err, when set, is returned by every call.
	Err error
}

// NewScriptedMockProvider creates a provider that answers with responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	content := s.responses[0]
	s.responses = s.responses[1:]
	return &ChatResponse{Content: content, Usage: mockUsage}, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, response)
}

// Requests returns the requests received so far.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Chat was called.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// EchoProvider answers every request with a fixed prefix and the last user
// message. It backs the "mock" provider setting for local runs.
type EchoProvider struct {
	Prefix string
}

// Chat implements Provider.
func (e EchoProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if req.JSONMode {
		data, err := json.Marshal(map[string]string{"action": "final_answer", "output": e.Prefix + last})
		if err != nil {
			return nil, err
		}
		return &ChatResponse{Content: string(data), Usage: mockUsage}, nil
	}
	return &ChatResponse{Content: e.Prefix + last, Usage: mockUsage}, nil
}
