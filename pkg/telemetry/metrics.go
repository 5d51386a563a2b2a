// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/agency/pkg/errors"
)

// Metrics holds the instruments recorded by the run service and the model
// bindings. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runCounter        metric.Int64Counter
	runLatency        metric.Float64Histogram
	activeRuns        metric.Int64UpDownCounter
	errorCounter      metric.Int64Counter
	llmLatency        metric.Float64Histogram
	llmRetries        metric.Int64Counter
	delegationCounter metric.Int64Counter
	breakerState      metric.Int64Gauge
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("agency"))
}

// NewMetricsWithMeter creates the instruments on the given meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.runCounter, err = meter.Int64Counter("agency.runs.total",
		metric.WithDescription("Crew runs by process and status")); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("agency.run.latency",
		metric.WithDescription("Crew run latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.activeRuns, err = meter.Int64UpDownCounter("agency.runs.active",
		metric.WithDescription("Crew runs in flight")); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter("agency.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.llmLatency, err = meter.Float64Histogram("agency.llm.latency",
		metric.WithDescription("Model call latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.llmRetries, err = meter.Int64Counter("agency.llm.retries",
		metric.WithDescription("Model call retries")); err != nil {
		return nil, err
	}
	if m.delegationCounter, err = meter.Int64Counter("agency.delegations.total",
		metric.WithDescription("Manager delegations by coworker role")); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("agency.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state (0=open, 1=half-open, 2=closed)")); err != nil {
		return nil, err
	}
	return m, nil
}

// RunStarted increments the in-flight gauge.
func (m *Metrics) RunStarted(ctx context.Context, process string) {
	if m == nil {
		return
	}
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCrewProcess, process)))
}

// RunFinished records a finished run and its outcome.
func (m *Metrics) RunFinished(ctx context.Context, process string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCrewProcess, process),
		attribute.String(AttrRunStatus, status),
	)
	m.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrCrewProcess, process)))
	m.runCounter.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if err != nil {
		m.RecordError(ctx, err, "run")
	}
}

// RecordError increments the error counter for the classified code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	ae := errors.Classify(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(ae.Code)),
		attribute.String("component", component),
		attribute.String("recoverable", ae.RecoverableString()),
	))
}

// RecordLLMCall records the latency of a model call.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmLatency.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
		attribute.Bool("success", err == nil),
	))
	if err != nil {
		m.RecordError(ctx, err, "llm")
	}
}

// RecordLLMRetry counts a retried model call.
func (m *Metrics) RecordLLMRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.llmRetries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrLLMProvider, provider)))
}

// RecordDelegation counts a manager delegation to a coworker.
func (m *Metrics) RecordDelegation(ctx context.Context, coworker string) {
	if m == nil {
		return
	}
	m.delegationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrDelegationTo, coworker)))
}

// RecordBreakerState records a breaker state (0=open, 1=half-open, 2=closed).
func (m *Metrics) RecordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("component", name)))
}
