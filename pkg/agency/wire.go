package agency

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/crew"
	"github.com/jllopis/agency/pkg/guardrails"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/planner"
	"github.com/jllopis/agency/pkg/telemetry"
)

// Components are the long-lived pieces built from configuration.
type Components struct {
	Service *Service
	LLM     *llm.GuardedProvider
	closers []func() error
}

// Close stops the definition watcher and releases the audit database.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// NewFromConfig wires a Service from cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := NewGuardedProvider(ctx, cfg.LLM, metrics, logger)
	if err != nil {
		return nil, err
	}

	def := crew.DefaultDefinition()
	if cfg.Crew.DefinitionFile != "" {
		if def, err = crew.LoadDefinition(cfg.Crew.DefinitionFile); err != nil {
			return nil, err
		}
	}
	process, err := crew.ParseProcess(cfg.Crew.Process)
	if err != nil {
		return nil, err
	}

	checks := []guardrails.Option{
		guardrails.WithInputChecker(guardrails.NewLengthChecker(1, cfg.Guardrails.MaxPromptChars)),
	}
	if cfg.Guardrails.PromptInjection {
		checks = append(checks, guardrails.WithPromptInjectionDetector())
	}

	comp := &Components{LLM: provider}
	opts := []Option{
		WithDefinition(def),
		WithProcess(process),
		WithMaxDelegations(cfg.Crew.MaxDelegations),
		WithTemperature(cfg.LLM.Temperature),
		WithRunTimeout(cfg.Crew.RunTimeout),
		WithGuardrails(guardrails.New(checks...)),
		WithMetrics(metrics),
		WithLogger(logger),
		WithEventEmitter(core.LogEventEmitter{Logger: logger}),
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.SQLitePath != "" {
			store, err := planner.OpenSQLiteAuditStore(cfg.Audit.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("audit store: %w", err)
			}
			comp.closers = append(comp.closers, store.Close)
			if keep := cfg.Audit.Retention; keep > 0 {
				n, err := store.Prune(ctx, time.Now().Add(-keep))
				if err != nil {
					_ = store.Close()
					return nil, fmt.Errorf("audit store: %w", err)
				}
				logger.Info("audit.pruned", slog.Int64("events", n), slog.Duration("retention", keep))
			}
			opts = append(opts, WithAuditStore(store))
		} else {
			opts = append(opts, WithAuditStore(planner.NewMemoryAuditStore(cfg.Audit.MaxEvents)))
		}
	}

	comp.Service = NewService(provider, cfg.LLM.Model, opts...)

	if path := cfg.Crew.DefinitionFile; path != "" && cfg.Crew.WatchInterval > 0 {
		w := config.NewWatcher([]string{path}, func(context.Context) error {
			def, err := crew.LoadDefinition(path)
			if err != nil {
				return err
			}
			return comp.Service.ReplaceDefinition(def)
		}, config.WithWatchInterval(cfg.Crew.WatchInterval), config.WithWatchLogger(logger))
		w.Start(ctx)
		comp.closers = append(comp.closers, func() error { w.Stop(); return nil })
	}
	return comp, nil
}
