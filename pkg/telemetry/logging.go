// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agency/pkg/core"
)

// ConfigureSlog builds a context-aware logger and installs it as the slog default.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger returns a text or JSON logger. Records logged with a context
// gain trace_id and span_id from the active span, and run_id from the
// context when the call site did not set one.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(runContextHandler{slog.NewJSONHandler(output, opts)})
	}
	return slog.New(runContextHandler{slog.NewTextHandler(output, opts)})
}

type runContextHandler struct {
	slog.Handler
}

func (h runContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, record)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := core.RunID(ctx); ok && !hasAttr(record, "run_id") {
		record.AddAttrs(slog.String("run_id", id))
	}
	return h.Handler.Handle(ctx, record)
}

func (h runContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return runContextHandler{h.Handler.WithAttrs(attrs)}
}

func (h runContextHandler) WithGroup(name string) slog.Handler {
	return runContextHandler{h.Handler.WithGroup(name)}
}

func hasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

// ParseLogLevel accepts slog level names ("debug", "WARN", "info+2") and
// "warning". Anything else means info.
func ParseLogLevel(level string) slog.Level {
	name := strings.TrimSpace(level)
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}
