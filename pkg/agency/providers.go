package agency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/resilience"
	"github.com/jllopis/agency/pkg/telemetry"
	"github.com/jllopis/agency/providers/anthropic"
	"github.com/jllopis/agency/providers/gemini"
	"github.com/jllopis/agency/providers/openai"
)

// NewProvider builds a single backend from its settings.
func NewProvider(ctx context.Context, name, model, baseURL, apiKey string) (llm.Provider, error) {
	switch name {
	case "gemini":
		p, err := gemini.New(ctx, apiKey, gemini.WithModel(model))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		return openai.New(openai.WithAPIKey(apiKey), openai.WithBaseURL(baseURL), openai.WithModel(model)), nil
	case "anthropic":
		return anthropic.New(anthropic.WithAPIKey(apiKey), anthropic.WithBaseURL(baseURL), anthropic.WithModel(model)), nil
	case "ollama":
		return llm.NewOllama(baseURL), nil
	case "mock":
		return llm.EchoProvider{Prefix: "echo: "}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

// NewGuardedProvider builds the configured backend, and its fallback when
// one is set, behind timeouts, retries and a circuit breaker.
func NewGuardedProvider(ctx context.Context, cfg config.LLMConfig, metrics *telemetry.Metrics, logger *slog.Logger) (*llm.GuardedProvider, error) {
	primary, err := NewProvider(ctx, cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	gc := llm.GuardConfig{
		Name:    cfg.Provider,
		Timeout: cfg.Timeout,
		Retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(cfg.Retry.MaxAttempts).
			WithInitialDelay(cfg.Retry.InitialDelay).
			WithMaxDelay(cfg.Retry.MaxDelay),
		Breaker: resilience.CircuitBreakerConfig{
			Name:             cfg.Provider,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		Metrics: metrics,
		Logger:  logger,
	}

	if fb := cfg.Fallback; fb.Provider != "" {
		fallback, err := NewProvider(ctx, fb.Provider, fb.Model, fb.BaseURL, fb.APIKey)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		gc.Fallback = fallback
		gc.FallbackName = fb.Provider
		gc.FallbackModel = fb.Model
		if gc.FallbackModel == "" {
			gc.FallbackModel = defaultModel(fb.Provider)
		}
	}
	return llm.Guard(primary, gc), nil
}

// defaultModel returns the model used when a request names none.
func defaultModel(provider string) string {
	switch provider {
	case "gemini":
		return gemini.DefaultModel
	case "openai":
		return openai.DefaultModel
	case "anthropic":
		return anthropic.DefaultModel
	default:
		return ""
	}
}
