// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the agency over HTTP.
//
// Routes:
//
//	POST /run-agency          run the crew on {"prompt": "..."}
//	GET  /                    liveness payload
//	GET  /healthz             component health
//	GET  /runs/{run_id}/steps audit trail of a run
//	     /mcp                 MCP streamable HTTP (optional)
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"

	"github.com/jllopis/agency/pkg/agency"
	"github.com/jllopis/agency/pkg/core"
	"github.com/jllopis/agency/pkg/errors"
	"github.com/jllopis/agency/pkg/planner"
)

// RunIDHeader carries the run id on every /run-agency response.
const RunIDHeader = "X-Run-ID"

// RootMessage is returned by GET /.
const RootMessage = "AI Agency API is running"

// StepLister returns the audit trail of a run.
type StepLister interface {
	Steps(ctx context.Context, runID string) ([]planner.AuditEvent, error)
}

// Options configures the HTTP gateway.
type Options struct {
	MaxConcurrentRuns int64
	MaxBodyBytes      int64
	// ExposeErrorDetail adds the underlying error text to error responses.
	ExposeErrorDetail bool
	Health            *core.HealthRegistry
	Steps             StepLister
	// MCP is mounted at /mcp when set.
	MCP    http.Handler
	Logger *slog.Logger
}

// Server routes HTTP requests to a Runner.
type Server struct {
	runner  agency.Runner
	opts    Options
	runs    *semaphore.Weighted
	log     *slog.Logger
	handler http.Handler
}

// New builds the gateway. Zero limits fall back to 16 runs and 1 MiB bodies.
func New(runner agency.Runner, opts Options) *Server {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 16
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Health == nil {
		opts.Health = core.NewHealthRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		opts:   opts,
		runs:   semaphore.NewWeighted(opts.MaxConcurrentRuns),
		log:    opts.Logger,
	}
	s.opts.Health.Register("runs", core.HealthFunc(s.checkCapacity))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /run-agency", s.handleRun)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /runs/{run_id}/steps", s.handleSteps)
	if opts.MCP != nil {
		mux.Handle("/mcp", opts.MCP)
	}
	s.handler = cors.AllowAll().Handler(s.logRequests(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type runRequest struct {
	Prompt string `json:"prompt"`
}

type runResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
	RunID  string `json:"run_id,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// A well-formed client run id is kept so retries share one audit trail.
	if id := r.Header.Get(RunIDHeader); core.IsRunID(id) {
		ctx = core.WithRunID(ctx, id)
	}
	ctx, runID := core.EnsureRunID(ctx)
	w.Header().Set(RunIDHeader, runID)

	if !s.runs.TryAcquire(1) {
		s.writeError(w, runID, errors.New(errors.CodeRateLimit, "too many concurrent runs", nil))
		return
	}
	defer s.runs.Release(1)

	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		msg := "invalid JSON body"
		if stderrors.As(err, &tooLarge) {
			msg = fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		}
		s.writeError(w, runID, errors.New(errors.CodeInvalidInput, msg, err))
		return
	}

	res, err := s.runner.Run(ctx, req.Prompt)
	if err != nil {
		s.writeError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Status: res.Status, Output: res.Output})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": RootMessage})
}

type healthComponent struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []healthComponent `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.opts.Health.CheckAll(r.Context())
	resp := healthResponse{Status: strings.ToLower(string(overall))}
	for _, res := range results {
		c := healthComponent{Name: res.Component, Status: strings.ToLower(string(res.Status)), Message: res.Message}
		if res.Error != nil {
			c.Message = res.Error.Error()
		}
		resp.Components = append(resp.Components, c)
	}
	status := http.StatusOK
	if overall == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if s.opts.Steps == nil {
		s.writeError(w, runID, errors.New(errors.CodeNotFound, "audit is disabled", nil))
		return
	}
	events, err := s.opts.Steps.Steps(r.Context(), runID)
	if err != nil {
		s.writeError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "steps": events})
}

// checkCapacity reports degraded health when every run slot is taken.
func (s *Server) checkCapacity(context.Context) core.HealthResult {
	if !s.runs.TryAcquire(1) {
		return core.HealthResult{Status: core.HealthDegraded, Message: "all run slots busy"}
	}
	s.runs.Release(1)
	return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("%d run slots", s.opts.MaxConcurrentRuns)}
}

func (s *Server) writeError(w http.ResponseWriter, runID string, err error) {
	ae := errors.Classify(err)
	detail := ae.Message
	if s.opts.ExposeErrorDetail && ae.Err != nil {
		detail = ae.Message + ": " + ae.Err.Error()
	}
	status := ae.StatusCode
	if status == 0 {
		status = errors.StatusFor(ae.Code)
	}
	writeJSON(w, status, errorResponse{Detail: detail, Code: string(ae.Code), RunID: runID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (MCP) working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.InfoContext(r.Context(), "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("run_id", rec.Header().Get(RunIDHeader)),
		)
	})
}
