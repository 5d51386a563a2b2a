// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jllopis/agency/pkg/core"
)

func TestNewLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "agency.run.start", slog.String("run_id", "run-1"))
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id in record, got %v", rec["trace_id"])
	}
	if rec["span_id"] == nil {
		t.Errorf("expected span_id in record")
	}
	if rec["run_id"] != "run-1" {
		t.Errorf("expected run_id attribute")
	}
}

func TestNewLoggerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("plain")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log: %v", err)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Errorf("unexpected trace_id without span")
	}
}

func TestNewLoggerAddsRunIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")
	ctx := core.WithRunID(context.Background(), "run-ctx")

	logger.InfoContext(ctx, "crew.step.complete")
	logger.InfoContext(ctx, "agency.run.start", slog.String("run_id", "run-explicit"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatal(err)
	}
	if first["run_id"] != "run-ctx" {
		t.Errorf("expected run_id from context, got %v", first["run_id"])
	}
	if second["run_id"] != "run-explicit" || bytes.Count(lines[1], []byte(`"run_id"`)) != 1 {
		t.Errorf("explicit run_id must win without duplication: %s", lines[1])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"info+2":  slog.LevelInfo + 2,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level")
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("warn must be logged")
	}
}
