// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix of every environment override.
	EnvPrefix = "ULTRATHINK_"
)

// defaultYAML is the lowest configuration layer. Loading it through the same
// parser as user files keeps boolean defaults (true) representable.
const defaultYAML = `
orchestrator:
  min_confidence: 96
  max_iterations: 10
  enable_adaptive_limits: true
  enable_profiling: true
  extension_step: 3
  max_transient_retries: 3
  max_consecutive_failures: 3
  deadline: 300s
  iteration_timeout: 120s
  layer_timeout: 30s
  retry_backoff:
    base: 500ms
    cap: 8s
    jitter: 0.2
  scorer_weights:
    guardrail: 0.30
    verifier: 0.30
    prompt: 0.15
    efficiency: 0.25
  verifier_weights:
    V1: 1
    V2: 1
    V3: 1
    V4: 1
  domain: general
  target_audience: general
pool:
  size: 500
complexity:
  simple_max_chars: 50
  simple_max_words: 10
  simple_budget: 8
  moderate_max_chars: 200
  moderate_max_words: 50
  moderate_budget: 12
  complex_budget: 25
  required_layers:
    simple: [L1, L2, L3, L4, L5, L6, L7]
    moderate: [L1, L2, L3, L4, L5, L6, L7]
    complex: [L1, L2, L3, L4, L5, L6, L7]
safety_api:
  enabled: false
  api_version: "2024-09-01"
  timeout: 10s
  retry_count: 3
  backoff:
    base: 500ms
    cap: 8s
    jitter: 0.2
  rate_limit: 10
  burst: 5
  degraded_mode: false
  category_threshold: 2
llm:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.2
  max_tokens: 1024
  timeout: 60s
sink:
  kind: none
events:
  enabled: false
  subject_prefix: ultrathink
server:
  host: localhost
  port: 9191
  shutdown_timeout: 10s
logging:
  level: info
  format: json
  sampling: true
  otel: false
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  service_name: ultrathink
  service_version: 0.1.0
  insecure: true
  sample_rate: 1.0
  export_interval: 15s
`

// knownSections lists top-level keys, longest first, so env names containing
// underscores inside the section name (SAFETY_API_*) resolve correctly.
var knownSections = func() []string {
	s := []string{
		"orchestrator", "pool", "complexity", "safety_api", "rules", "phi",
		"llm", "sink", "events", "server", "logging", "telemetry",
	}
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// Load builds a Config from defaults, the optional YAML file at path and
// ULTRATHINK_* environment variables, in increasing precedence.
//
// Environment names map to keys by stripping the prefix, lower-casing and
// splitting off the section:
//
//	ULTRATHINK_ORCHESTRATOR_MIN_CONFIDENCE -> orchestrator.min_confidence
//	ULTRATHINK_SAFETY_API_BASE_URL         -> safety_api.base_url
//
// A config file must be at most 1MB and, outside Windows, have 0600 or 0400
// permissions.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without file or env overrides.
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not parse: %v", err))
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return &cfg
}

// envKey maps ULTRATHINK_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range knownSections {
		if strings.HasPrefix(lower, section+"_") {
			return section + "." + strings.TrimPrefix(lower, section+"_")
		}
	}
	return lower
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/read race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
