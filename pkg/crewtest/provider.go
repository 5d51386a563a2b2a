// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package crewtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/agency/pkg/llm"
)

// ScenarioProvider is a scripted llm.Provider for crew tests. Responses
// are consumed in order; a response with a Condition is only used by a
// request it matches, so one provider can script several agents.
type ScenarioProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	used         []bool
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content string
	Error   error
	Usage   llm.Usage
	// Condition restricts the response to matching requests.
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates an empty provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a response for any agent.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddRoleResponse queues a response only the agent with role will receive.
func (p *ScenarioProvider) AddRoleResponse(role, content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content, Condition: ForRole(role)})
}

// AddErrorResponse queues an error.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	p.used = append(p.used, false)
	return p
}

// WithDefaultError sets the error returned when nothing matches.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc replaces the script with fn.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if p.onChat != nil {
		return p.onChat(req)
	}

	for i, resp := range p.responses {
		if p.used[i] || (resp.Condition != nil && !resp.Condition(req)) {
			continue
		}
		p.used[i] = true
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &llm.ChatResponse{Content: resp.Content, Usage: resp.Usage}, nil
	}

	if p.defaultError != nil {
		return nil, p.defaultError
	}
	return nil, fmt.Errorf("no scripted response for %s (call %d)", RoleOf(req), len(p.requests))
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// RequestsFor returns the requests sent on behalf of role.
func (p *ScenarioProvider) RequestsFor(role string) []llm.ChatRequest {
	match := ForRole(role)
	var out []llm.ChatRequest
	for _, req := range p.Requests() {
		if match(req) {
			out = append(out, req)
		}
	}
	return out
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Pending reports how many scripted responses were never served.
func (p *ScenarioProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, used := range p.used {
		if !used {
			n++
		}
	}
	return n
}

// Reset rewinds the script and forgets captured requests.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.used {
		p.used[i] = false
	}
	p.requests = p.requests[:0]
}

// ForRole matches requests whose system persona is role.
func ForRole(role string) func(llm.ChatRequest) bool {
	prefix := "You are " + role + "."
	return func(req llm.ChatRequest) bool {
		for _, m := range req.Messages {
			if m.Role == llm.RoleSystem {
				return strings.HasPrefix(m.Content, prefix)
			}
		}
		return false
	}
}

// RoleOf extracts the agent role from a request's system persona.
func RoleOf(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role != llm.RoleSystem {
			continue
		}
		rest, ok := strings.CutPrefix(m.Content, "You are ")
		if !ok {
			return ""
		}
		role, _, _ := strings.Cut(rest, ".")
		return role
	}
	return ""
}
