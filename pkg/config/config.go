// Package config loads the service configuration.
//
// Sources are layered, each one overriding the previous: built-in defaults,
// an optional YAML file plus its profile overlay (config.<profile>.yaml),
// .env files, AGENCY_* environment variables, the conventional provider
// variables (GOOGLE_API_KEY, PORT, ...) and finally --set overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides: AGENCY_LLM_MODEL -> llm.model.
const EnvPrefix = "AGENCY_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	LLM        LLMConfig        `koanf:"llm"`
	Crew       CrewConfig       `koanf:"crew"`
	Guardrails GuardrailsConfig `koanf:"guardrails"`
	Audit      AuditConfig      `koanf:"audit"`
	MCP        MCPConfig        `koanf:"mcp"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	MaxConcurrentRuns int           `koanf:"max_concurrent_runs"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// ExposeErrorDetail includes upstream error text in HTTP responses.
	ExposeErrorDetail bool `koanf:"expose_error_detail"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type LLMConfig struct {
	Provider    string         `koanf:"provider"` // gemini, openai, anthropic, ollama, mock
	Model       string         `koanf:"model"`
	BaseURL     string         `koanf:"base_url"`
	APIKey      string         `koanf:"api_key"`
	Timeout     time.Duration  `koanf:"timeout"`
	Temperature float64        `koanf:"temperature"`
	Retry       RetryConfig    `koanf:"retry"`
	Breaker     BreakerConfig  `koanf:"breaker"`
	Fallback    FallbackConfig `koanf:"fallback"`
}

type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// FallbackConfig names a secondary backend. An empty provider disables it.
type FallbackConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type CrewConfig struct {
	Process        string        `koanf:"process"` // sequential, hierarchical
	MaxDelegations int           `koanf:"max_delegations"`
	DefinitionFile string        `koanf:"definition_file"`
	RunTimeout     time.Duration `koanf:"run_timeout"`
	// WatchInterval polls DefinitionFile for changes. Zero disables it.
	WatchInterval time.Duration `koanf:"watch_interval"`
}

type GuardrailsConfig struct {
	MaxPromptChars  int  `koanf:"max_prompt_chars"`
	PromptInjection bool `koanf:"prompt_injection"`
}

type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
	// SQLitePath selects the SQLite store. Empty keeps events in memory.
	SQLitePath string `koanf:"sqlite_path"`
	// MaxEvents caps the in-memory store.
	MaxEvents int `koanf:"max_events"`
	// Retention prunes older SQLite events at startup. Zero keeps everything.
	Retention time.Duration `koanf:"retention"`
}

type MCPConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter       string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	SampleRatio    float64       `koanf:"sample_ratio"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

var defaults = map[string]any{
	"server.host":                "",
	"server.port":                8080,
	"server.max_concurrent_runs": 16,
	"server.max_body_bytes":      int64(1 << 20),
	"server.read_header_timeout": 10 * time.Second,
	"server.shutdown_timeout":    15 * time.Second,
	"server.expose_error_detail": false,

	"llm.provider":                  "gemini",
	"llm.model":                     "",
	"llm.base_url":                  "",
	"llm.api_key":                   "",
	"llm.timeout":                   60 * time.Second,
	"llm.temperature":               0.7,
	"llm.retry.max_attempts":        3,
	"llm.retry.initial_delay":       500 * time.Millisecond,
	"llm.retry.max_delay":           10 * time.Second,
	"llm.breaker.failure_threshold": 5,
	"llm.breaker.success_threshold": 1,
	"llm.breaker.cooldown":          30 * time.Second,
	"llm.fallback.provider":         "",
	"llm.fallback.model":            "",
	"llm.fallback.base_url":         "",
	"llm.fallback.api_key":          "",

	"crew.process":         "hierarchical",
	"crew.max_delegations": 3,
	"crew.definition_file": "",
	"crew.run_timeout":     5 * time.Minute,
	"crew.watch_interval":  time.Duration(0),

	"guardrails.max_prompt_chars": 20000,
	"guardrails.prompt_injection": false,

	"audit.enabled":     false,
	"audit.sqlite_path": "",
	"audit.max_events":  10000,
	"audit.retention":   time.Duration(0),

	"mcp.enabled": false,

	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter":        "none",
	"telemetry.otlp_endpoint":   "localhost:4317",
	"telemetry.otlp_insecure":   true,
	"telemetry.sample_ratio":    1.0,
	"telemetry.metric_interval": time.Minute,
}

// apiKeyEnv lists the conventional variables holding each provider's key.
var apiKeyEnv = map[string][]string{
	"gemini":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
}

// Options controls where configuration is read from.
type Options struct {
	// Path is an optional YAML file.
	Path string
	// Profile selects config.<profile>.yaml next to Path and .env.<profile>.
	// Defaults to $APP_ENV.
	Profile string
	// DotEnvDir is searched for .env files. Empty means the working directory.
	DotEnvDir string
	// Overrides are key=value pairs applied last.
	Overrides []string
}

// Load reads configuration from the optional file at path.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path})
}

// LoadWithCLI loads configuration using --config, --profile and --set
// arguments. Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return LoadWithOptions(opts)
}

// LoadWithOptions layers every configuration source and validates the result.
func LoadWithOptions(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if opts.Profile == "" {
		opts.Profile = os.Getenv("APP_ENV")
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.Path, err)
		}
		if opts.Profile != "" {
			overlay := profilePath(opts.Path, opts.Profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load config %s: %w", overlay, err)
				}
			}
		}
	}

	if err := loadDotEnv(opts.DotEnvDir, opts.Profile); err != nil {
		return nil, err
	}

	keys := envKeyIndex(k.Keys())
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		if key, ok := keys[name]; ok {
			return key
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	if err := applyCompatEnv(k); err != nil {
		return nil, err
	}

	for _, kv := range opts.Overrides {
		key, val, err := parseOverride(kv)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profilePath turns config.yaml into config.<profile>.yaml.
func profilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// loadDotEnv loads .env.<profile> then .env. Existing variables win, so the
// more specific file takes precedence over the generic one.
func loadDotEnv(dir, profile string) error {
	var files []string
	if profile != "" {
		files = append(files, filepath.Join(dir, ".env."+profile))
	}
	files = append(files, filepath.Join(dir, ".env"))
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// envKeyIndex maps LLM_API_KEY style names onto known dotted keys, so keys
// containing underscores survive the env transform.
func envKeyIndex(keys []string) map[string]string {
	idx := make(map[string]string, len(keys))
	for _, key := range keys {
		idx[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return idx
}

// applyCompatEnv honours the provider key variables and PORT. They never
// override an explicit AGENCY_* variable.
func applyCompatEnv(k *koanf.Koanf) error {
	if os.Getenv(EnvPrefix+"LLM_API_KEY") == "" && k.String("llm.api_key") == "" {
		if v := lookupFirst(apiKeyEnv[strings.ToLower(k.String("llm.provider"))]); v != "" {
			if err := k.Set("llm.api_key", v); err != nil {
				return err
			}
		}
	}
	if os.Getenv(EnvPrefix+"LLM_FALLBACK_API_KEY") == "" && k.String("llm.fallback.api_key") == "" {
		if v := lookupFirst(apiKeyEnv[strings.ToLower(k.String("llm.fallback.provider"))]); v != "" {
			if err := k.Set("llm.fallback.api_key", v); err != nil {
				return err
			}
		}
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"SERVER_PORT") == "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		if err := k.Set("server.port", n); err != nil {
			return err
		}
	}
	return nil
}

func lookupFirst(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func parseCLIOverrides(args []string) (Options, error) {
	var opts Options
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "-config", "--profile", "-profile", "--set", "-set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return Options{}, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch strings.TrimLeft(name, "-") {
		case "config":
			opts.Path = value
		case "profile":
			opts.Profile = value
		case "set":
			if _, _, err := parseOverride(value); err != nil {
				return Options{}, err
			}
			opts.Overrides = append(opts.Overrides, value)
		}
	}
	return opts, nil
}

// parseOverride splits key=value. JSON values are decoded so that numbers,
// booleans and objects keep their type.
func parseOverride(kv string) (string, any, error) {
	key, raw, ok := strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid --set value %q, want key=value", kv)
	}
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return key, raw, nil
	}
	return key, val, nil
}

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.Fallback.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Fallback.Provider))
	c.Crew.Process = strings.ToLower(strings.TrimSpace(c.Crew.Process))
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
}
