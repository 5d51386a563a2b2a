package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/resilience"
	"github.com/jllopis/agency/pkg/telemetry"
)

// GuardConfig configures the resilience wrapper around a Provider.
type GuardConfig struct {
	// Name identifies the backend in spans, metrics and errors.
	Name string
	// Timeout bounds every single attempt. Zero disables it.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	// Fallback, when set, answers requests the primary could not serve
	// because of a transient failure or an open breaker.
	Fallback      Provider
	FallbackName  string
	FallbackModel string
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
}

// GuardedProvider decorates a Provider with per-call timeouts, retries,
// a circuit breaker and an optional fallback backend.
type GuardedProvider struct {
	next    Provider
	cfg     GuardConfig
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	log     *slog.Logger
}

// Guard wraps p with the policies in cfg.
func Guard(p Provider, cfg GuardConfig) *GuardedProvider {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &GuardedProvider{
		next:   p,
		cfg:    cfg,
		tracer: otel.Tracer("agency/llm"),
		log:    cfg.Logger,
	}

	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = cfg.Name
	}
	userHook := bc.OnStateChange
	bc.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
		g.log.Warn("llm.breaker.state", slog.String("breaker", name), slog.String("from", string(from)), slog.String("to", string(to)))
		cfg.Metrics.RecordBreakerState(context.Background(), name, breakerGauge(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	g.breaker = resilience.NewCircuitBreaker(bc)

	userRetry := cfg.Retry.OnRetry
	g.cfg.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.log.Warn("llm.call.retry",
			slog.String("provider", g.cfg.Name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		cfg.Metrics.RecordLLMRetry(context.Background(), g.cfg.Name)
		if userRetry != nil {
			userRetry(attempt, delay, err)
		}
	}
	return g
}

// Chat implements Provider.
func (g *GuardedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := g.tracer.Start(ctx, "LLM.Chat", trace.WithAttributes(
		telemetry.LLMAttributes(req.Model, g.cfg.Name, len(req.Messages))...,
	))
	defer span.End()

	start := time.Now()
	// One Chat is one breaker outcome, however many attempts it took.
	primary := func(ctx context.Context) (*ChatResponse, error) {
		var resp *ChatResponse
		err := g.breaker.Call(func() error {
			var callErr error
			resp, callErr = resilience.Retry(ctx, g.cfg.Retry, func(ctx context.Context) (*ChatResponse, error) {
				r, err := resilience.WithTimeout(ctx, g.cfg.Timeout, func(ctx context.Context) (*ChatResponse, error) {
					return g.next.Chat(ctx, req)
				})
				if err != nil {
					return nil, errors.Classify(err)
				}
				return r, nil
			})
			return callErr
		})
		return resp, err
	}

	var fallback resilience.FallbackFunc[*ChatResponse]
	if g.cfg.Fallback != nil {
		fallback = func(ctx context.Context, primaryErr error) (*ChatResponse, error) {
			g.log.WarnContext(ctx, "llm.fallback",
				slog.String("provider", g.cfg.Name),
				slog.String("fallback", g.cfg.FallbackName),
				slog.String("error", primaryErr.Error()),
			)
			fbReq := req
			if g.cfg.FallbackModel != "" {
				fbReq.Model = g.cfg.FallbackModel
			}
			return g.cfg.Fallback.Chat(ctx, fbReq)
		}
	}

	resp, err := resilience.WithFallback(ctx, primary, shouldFallback, fallback)
	g.cfg.Metrics.RecordLLMCall(ctx, g.cfg.Name, req.Model, time.Since(start), err)
	if err != nil {
		ae := errors.Classify(err).WithAttribute("llm.provider", g.cfg.Name)
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Code))
		return nil, ae
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
		float64(time.Since(start).Microseconds())/1000,
	)...)
	return resp, nil
}

// BreakerState reports the state of the primary backend's circuit breaker.
func (g *GuardedProvider) BreakerState() resilience.CircuitBreakerState {
	return g.breaker.State()
}

// Check implements core.HealthChecker from the breaker state.
func (g *GuardedProvider) Check(context.Context) core.HealthResult {
	switch g.breaker.State() {
	case resilience.StateOpen:
		return core.HealthResult{Status: core.HealthUnhealthy, Message: "circuit breaker open", LastCheck: time.Now()}
	case resilience.StateHalfOpen:
		return core.HealthResult{Status: core.HealthDegraded, Message: "circuit breaker half-open", LastCheck: time.Now()}
	default:
		return core.HealthResult{Status: core.HealthHealthy, Message: g.cfg.Name, LastCheck: time.Now()}
	}
}

func shouldFallback(err error) bool {
	ae := errors.Classify(err)
	return ae.Recoverable || ae.Code == errors.CodeUnavailable
}

func breakerGauge(s resilience.CircuitBreakerState) int64 {
	switch s {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
