package telemetry

import (
	"context"
	"io"
	"reflect"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{Exporter: "none"}, false},
		{"empty defaults to none", Config{}, false},
		{"stdout", Config{Exporter: "stdout", Output: io.Discard}, false},
		{"stdout sampled", Config{Exporter: "stdout", Output: io.Discard, SampleRatio: 0.25}, false},
		{"otlp without endpoint", Config{Exporter: "otlp"}, true},
		{"unknown", Config{Exporter: "zipkin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitWithConfig("agency-test", "v0.0.1", tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitWithConfig failed: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown failed: %v", err)
			}
		})
	}
}

func TestExporters(t *testing.T) {
	if got := Exporters(); !reflect.DeepEqual(got, []string{"otlp", "stdout"}) {
		t.Fatalf("unexpected exporters %v", got)
	}
}

func TestSampler(t *testing.T) {
	all := sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()
	for _, ratio := range []float64{0, 1, 2, -1} {
		if got := sampler(ratio).Description(); got != all {
			t.Errorf("ratio %v: expected %q, got %q", ratio, all, got)
		}
	}
	if got := sampler(0.5).Description(); got == all {
		t.Errorf("expected ratio sampler for 0.5, got %q", got)
	}
}
