// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/agency/pkg/errors"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsWithMeter(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", m.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRunMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RunStarted(ctx, "sequential")
	m.RunFinished(ctx, "sequential", 15*time.Millisecond, nil)
	m.RunStarted(ctx, "hierarchical")
	m.RunFinished(ctx, "hierarchical", time.Second, errors.New(errors.CodeTimeout, "slow", nil))

	got := collect(t, reader)
	if total := sumOf(t, got["agency.runs.total"]); total != 2 {
		t.Errorf("expected 2 runs, got %d", total)
	}
	if active := sumOf(t, got["agency.runs.active"]); active != 0 {
		t.Errorf("expected no active runs, got %d", active)
	}
	if errs := sumOf(t, got["agency.errors.total"]); errs != 1 {
		t.Errorf("expected 1 error, got %d", errs)
	}
	if _, ok := got["agency.run.latency"]; !ok {
		t.Errorf("expected latency histogram")
	}
}

func TestLLMMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMCall(ctx, "gemini", "gemini-2.0-flash", 20*time.Millisecond, nil)
	m.RecordLLMRetry(ctx, "gemini")
	m.RecordDelegation(ctx, "Developer")
	m.RecordBreakerState(ctx, "llm", 2)

	got := collect(t, reader)
	if n := sumOf(t, got["agency.llm.retries"]); n != 1 {
		t.Errorf("expected 1 retry, got %d", n)
	}
	if n := sumOf(t, got["agency.delegations.total"]); n != 1 {
		t.Errorf("expected 1 delegation, got %d", n)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RunStarted(ctx, "sequential")
	m.RunFinished(ctx, "sequential", time.Millisecond, nil)
	m.RecordError(ctx, errors.New(errors.CodeInternal, "x", nil), "run")
	m.RecordLLMCall(ctx, "mock", "m", time.Millisecond, nil)
	m.RecordLLMRetry(ctx, "mock")
	m.RecordDelegation(ctx, "Developer")
	m.RecordBreakerState(ctx, "llm", 0)
}
