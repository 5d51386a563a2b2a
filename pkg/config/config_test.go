package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate clears variables that would leak from the host into a test.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"APP_ENV", "PORT", "GOOGLE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"AGENCY_LLM_PROVIDER", "AGENCY_LLM_MODEL", "AGENCY_LLM_API_KEY", "AGENCY_SERVER_PORT",
		"AGENCY_LLM_FALLBACK_API_KEY", "AGENCY_CREW_PROCESS",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "g-key" {
		t.Errorf("expected gemini with compat key, got %s / %q", cfg.LLM.Provider, cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Addr() != ":8080" {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crew.Process != "hierarchical" || cfg.Crew.MaxDelegations != 3 {
		t.Errorf("unexpected crew defaults: %+v", cfg.Crew)
	}
	if cfg.LLM.Timeout != 60*time.Second || cfg.Crew.RunTimeout != 5*time.Minute {
		t.Errorf("unexpected timeouts: %v %v", cfg.LLM.Timeout, cfg.Crew.RunTimeout)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 || cfg.Server.MaxConcurrentRuns != 16 {
		t.Errorf("unexpected server limits: %+v", cfg.Server)
	}
	if cfg.LLM.Retry.MaxAttempts != 3 || cfg.LLM.Breaker.Cooldown != 30*time.Second {
		t.Errorf("unexpected resilience defaults: %+v %+v", cfg.LLM.Retry, cfg.LLM.Breaker)
	}
	if cfg.Audit.MaxEvents != 10000 || cfg.Audit.Retention != 0 || cfg.Crew.WatchInterval != 0 {
		t.Errorf("unexpected audit/watch defaults: %+v %v", cfg.Audit, cfg.Crew.WatchInterval)
	}
	if cfg.Telemetry.SampleRatio != 1 || cfg.Telemetry.MetricInterval != time.Minute {
		t.Errorf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	isolate(t)
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "llm.api_key is required") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9000
llm:
  provider: openai
  model: file-model
  timeout: 20s
crew:
  process: sequential
log:
  level: info
`)
	writeFile(t, dir, "config.prod.yaml", "log:\n  level: warn\n")

	t.Setenv("OPENAI_API_KEY", "compat-key")
	t.Setenv("AGENCY_LLM_MODEL", "env-model")
	t.Setenv("AGENCY_SERVER_MAX_CONCURRENT_RUNS", "4")
	t.Setenv("PORT", "7070")

	cfg, err := LoadWithCLI([]string{
		"--config", path,
		"--profile=prod",
		"--set", "crew.process=hierarchical",
		"--set", "guardrails.prompt_injection=true",
		"serve",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file value", cfg.LLM.Provider, "openai"},
		{"file duration", cfg.LLM.Timeout, 20 * time.Second},
		{"profile overlay", cfg.Log.Level, "warn"},
		{"env over file", cfg.LLM.Model, "env-model"},
		{"env key with underscores", cfg.Server.MaxConcurrentRuns, 4},
		{"compat key", cfg.LLM.APIKey, "compat-key"},
		{"PORT over file", cfg.Server.Port, 7070},
		{"cli over file", cfg.Crew.Process, "hierarchical"},
		{"cli bool", cfg.Guardrails.PromptInjection, true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestCompatEnvDoesNotOverrideExplicit(t *testing.T) {
	isolate(t)
	t.Setenv("AGENCY_LLM_API_KEY", "explicit")
	t.Setenv("GOOGLE_API_KEY", "compat")
	t.Setenv("AGENCY_SERVER_PORT", "8181")
	t.Setenv("PORT", "9191")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "explicit" {
		t.Errorf("expected explicit key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected AGENCY_SERVER_PORT to win, got %d", cfg.Server.Port)
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "AGENCY_LLM_PROVIDER=anthropic\nANTHROPIC_API_KEY=from-dotenv\nAGENCY_LOG_LEVEL=debug\n")
	writeFile(t, dir, ".env.staging", "AGENCY_LOG_LEVEL=error\n")
	t.Cleanup(func() {
		for _, name := range []string{"AGENCY_LLM_PROVIDER", "ANTHROPIC_API_KEY", "AGENCY_LOG_LEVEL"} {
			os.Unsetenv(name)
		}
	})

	cfg, err := LoadWithOptions(Options{DotEnvDir: dir, Profile: "staging"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "from-dotenv" {
		t.Errorf("expected .env values, got %s / %q", cfg.LLM.Provider, cfg.LLM.APIKey)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected profile .env to win, got %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  []string
		want string
	}{
		{"unknown provider", []string{"llm.provider=qwen"}, `llm.provider "qwen" is not supported`},
		{"ollama needs model", []string{"llm.provider=ollama"}, "llm.model is required"},
		{"bad process", []string{"crew.process=parallel"}, "crew.process must be"},
		{"bad port", []string{"server.port=0"}, "server.port must be"},
		{"bad limit", []string{"server.max_concurrent_runs=-1"}, "max_concurrent_runs must be positive"},
		{"bad exporter", []string{"telemetry.exporter=zipkin"}, "telemetry.exporter must be"},
		{"bad sample ratio", []string{"telemetry.sample_ratio=1.5"}, "telemetry.sample_ratio must be"},
		{"fallback key", []string{"llm.fallback.provider=openai"}, "llm.fallback.api_key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			opts := Options{Overrides: append([]string{"llm.provider=mock"}, tt.set...)}
			_, err := LoadWithOptions(opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	tests := [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--set", "=value"},
	}
	for _, args := range tests {
		if _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestParseOverrideTypes(t *testing.T) {
	tests := []struct {
		in   string
		key  string
		want any
	}{
		{"server.port=9090", "server.port", float64(9090)},
		{"mcp.enabled=true", "mcp.enabled", true},
		{"llm.model=gemini-2.5-pro", "llm.model", "gemini-2.5-pro"},
		{"llm.base_url=http://x:1/v1?a=b", "llm.base_url", "http://x:1/v1?a=b"},
	}
	for _, tt := range tests {
		key, val, err := parseOverride(tt.in)
		if err != nil {
			t.Fatalf("parseOverride(%q): %v", tt.in, err)
		}
		if key != tt.key || val != tt.want {
			t.Errorf("parseOverride(%q) = %q, %v", tt.in, key, val)
		}
	}
}
