// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"
	"time"
)

func TestStaticHealth(t *testing.T) {
	tests := []struct {
		name   string
		status HealthStatus
	}{
		{"healthy", HealthHealthy},
		{"degraded", HealthDegraded},
		{"unhealthy", HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StaticHealth(tt.status, "test message").Check(context.Background())
			if result.Status != tt.status {
				t.Errorf("expected %v, got %v", tt.status, result.Status)
			}
			if result.Message != "test message" {
				t.Errorf("expected message 'test message', got %q", result.Message)
			}
			if result.LastCheck.IsZero() {
				t.Errorf("expected LastCheck to be set")
			}
		})
	}
}

func TestHealthRegistryOverall(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		expected HealthStatus
	}{
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"one degraded", []HealthStatus{HealthHealthy, HealthDegraded}, HealthDegraded},
		{"one unhealthy", []HealthStatus{HealthDegraded, HealthUnhealthy, HealthHealthy}, HealthUnhealthy},
		{"empty", nil, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewHealthRegistry()
			for i, s := range tt.statuses {
				reg.Register(string(rune('a'+i)), StaticHealth(s, ""))
			}
			results, overall := reg.CheckAll(context.Background())
			if len(results) != len(tt.statuses) {
				t.Fatalf("expected %d results, got %d", len(tt.statuses), len(results))
			}
			if overall != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, overall)
			}
		})
	}
}

func TestHealthRegistryOrderAndComponent(t *testing.T) {
	reg := NewHealthRegistry()
	reg.Register("runs", StaticHealth(HealthHealthy, ""))
	reg.Register("llm", StaticHealth(HealthHealthy, ""))

	results, _ := reg.CheckAll(context.Background())
	if results[0].Component != "llm" || results[1].Component != "runs" {
		t.Fatalf("expected results sorted by component, got %+v", results)
	}
}

func TestHealthRegistryCheckNotFound(t *testing.T) {
	if _, err := NewHealthRegistry().Check(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unregistered checker")
	}
}

func TestHealthFuncRespectsContext(t *testing.T) {
	reg := NewHealthRegistry()
	reg.Register("slow", HealthFunc(func(ctx context.Context) HealthResult {
		select {
		case <-ctx.Done():
			return HealthResult{Status: HealthUnhealthy, Message: "context timeout"}
		case <-time.After(100 * time.Millisecond):
			return HealthResult{Status: HealthHealthy}
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := reg.Check(ctx, "slow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy due to timeout")
	}
}
