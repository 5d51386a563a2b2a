package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/agency/pkg/core"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server over its REST API.
type OllamaProvider struct {
	baseURL   string
	client    *http.Client
	keepAlive string
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaClient replaces the HTTP client. The default has a 120s timeout.
func WithOllamaClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) { p.client = c }
}

// WithKeepAlive controls how long the server keeps the model loaded ("5m", "-1").
func WithKeepAlive(d string) OllamaOption {
	return func(p *OllamaProvider) { p.keepAlive = d }
}

// NewOllama creates a provider for the server at baseURL.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	p := &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ollamaRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Format    string         `json:"format,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
}

// Chat implements Provider with a single non-streaming /api/chat call.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := ollamaRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		KeepAlive: p.keepAlive,
	}
	if req.JSONMode {
		body.Format = "json"
	}
	if req.Temperature != 0 {
		body.Options = map[string]any{"temperature": req.Temperature}
	}

	var out ollamaResponse
	if err := p.do(ctx, http.MethodPost, "/api/chat", body, &out); err != nil {
		return nil, err
	}
	if !out.Done {
		return nil, &ProviderError{Provider: "ollama", StatusCode: http.StatusBadGateway, Message: "incomplete response"}
	}
	return &ChatResponse{
		Content: out.Message.Content,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// Check implements core.HealthChecker by listing the installed models.
func (p *OllamaProvider) Check(ctx context.Context) core.HealthResult {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := p.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return core.HealthResult{Status: core.HealthUnhealthy, Message: "ollama unreachable", Error: err}
	}
	if len(tags.Models) == 0 {
		return core.HealthResult{Status: core.HealthDegraded, Message: "no models installed"}
	}
	return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("%d models", len(tags.Models))}
}

func (p *OllamaProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ollama: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &ProviderError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: ParseRetryAfter(resp.Header),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}
