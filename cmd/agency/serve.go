package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/config"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/llm"
	"github.com/jllopis/agency/pkg/mcp"
	"github.com/jllopis/agency/pkg/server"
	"github.com/jllopis/agency/pkg/telemetry"
)

// bootstrap configures logging and telemetry and wires the service.
// The returned cleanup flushes telemetry and closes the components.
func bootstrap(ctx context.Context, cfg *config.Config) (*agency.Components, *slog.Logger, func(), error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("agency", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, nil, fmt.Errorf("metrics: %w", err)
	}

	comp, err := agency.NewFromConfig(ctx, cfg, metrics, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := comp.Close(); err != nil {
			logger.Error("agency.close", slog.String("error", err.Error()))
		}
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry.shutdown", slog.String("error", err.Error()))
		}
	}
	return comp, logger, cleanup, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	comp, logger, cleanup, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	health := core.NewHealthRegistry()
	health.Register("llm", comp.LLM)
	if cfg.LLM.Provider == "ollama" {
		health.Register("ollama", llm.NewOllama(cfg.LLM.BaseURL))
	}

	opts := server.Options{
		MaxConcurrentRuns: int64(cfg.Server.MaxConcurrentRuns),
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ExposeErrorDetail: cfg.Server.ExposeErrorDetail,
		Health:            health,
		Logger:            logger,
	}
	if cfg.Audit.Enabled {
		opts.Steps = comp.Service
	}
	if cfg.MCP.Enabled {
		opts.MCP = mcp.NewServer("agency", version, comp.Service, mcp.WithLogger(logger)).Handler()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.New(comp.Service, opts),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.listen",
			slog.String("addr", srv.Addr),
			slog.String("provider", cfg.LLM.Provider),
			slog.String("process", cfg.Crew.Process),
			slog.Bool("mcp", cfg.MCP.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("http.shutdown", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func runMCPStdio(ctx context.Context, cfg *config.Config) error {
	comp, logger, cleanup, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("mcp.stdio.start", slog.String("tool", mcp.ToolName))
	return mcp.NewServer("agency", version, comp.Service, mcp.WithLogger(logger)).ServeStdio()
}
