// Package config loads ultrathink configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// ULTRATHINK_* environment variables. Each runtime package owns its own
// option struct; this package only describes the on-disk/env shape and the
// cross-field rules that must hold before anything starts.
package config

import (
	"errors"
	"fmt"
	"math"
)

// Config holds the complete ultrathink configuration.
type Config struct {
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Pool         PoolConfig         `koanf:"pool"`
	Complexity   ComplexityConfig   `koanf:"complexity"`
	SafetyAPI    SafetyAPIConfig    `koanf:"safety_api"`
	Rules        RulesConfig        `koanf:"rules"`
	PHI          PHIConfig          `koanf:"phi"`
	LLM          LLMConfig          `koanf:"llm"`
	Sink         SinkConfig         `koanf:"sink"`
	Events       EventsConfig       `koanf:"events"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// OrchestratorConfig controls the iterative loop.
type OrchestratorConfig struct {
	MinConfidence          float64            `koanf:"min_confidence"`
	MaxIterations          int                `koanf:"max_iterations"`
	EnableAdaptiveLimits   bool               `koanf:"enable_adaptive_limits"`
	EnableProfiling        bool               `koanf:"enable_profiling"`
	ExtensionStep          int                `koanf:"extension_step"`
	MaxTransientRetries    int                `koanf:"max_transient_retries"`
	MaxConsecutiveFailures int                `koanf:"max_consecutive_failures"`
	Deadline               Duration           `koanf:"deadline"`
	IterationTimeout       Duration           `koanf:"iteration_timeout"`
	LayerTimeout           Duration           `koanf:"layer_timeout"`
	RetryBackoff           BackoffConfig      `koanf:"retry_backoff"`
	ScorerWeights          ScorerWeights      `koanf:"scorer_weights"`
	VerifierWeights        map[string]float64 `koanf:"verifier_weights"`
	LayerWeights           map[string]float64 `koanf:"layer_weights"`
	Domain                 string             `koanf:"domain"`
	TargetAudience         string             `koanf:"target_audience"`
	SourceDocuments        []string           `koanf:"source_documents"`
}

// BackoffConfig is an exponential backoff with jitter.
type BackoffConfig struct {
	Base   Duration `koanf:"base"`
	Cap    Duration `koanf:"cap"`
	Jitter float64  `koanf:"jitter"`
}

// ScorerWeights are the confidence scorer weights; they must sum to 1.
type ScorerWeights struct {
	Guardrail  float64 `koanf:"guardrail"`
	Verifier   float64 `koanf:"verifier"`
	Prompt     float64 `koanf:"prompt"`
	Efficiency float64 `koanf:"efficiency"`
}

// Sum returns the total of all weights.
func (w ScorerWeights) Sum() float64 {
	return w.Guardrail + w.Verifier + w.Prompt + w.Efficiency
}

// PoolConfig sizes the process-wide worker pool.
type PoolConfig struct {
	Size int `koanf:"size"`
}

// MaxPoolSize is the hard cap on worker slots.
const MaxPoolSize = 1000

// ComplexityConfig holds classifier thresholds.
type ComplexityConfig struct {
	SimpleMaxChars   int                 `koanf:"simple_max_chars"`
	SimpleMaxWords   int                 `koanf:"simple_max_words"`
	SimpleBudget     int                 `koanf:"simple_budget"`
	ModerateMaxChars int                 `koanf:"moderate_max_chars"`
	ModerateMaxWords int                 `koanf:"moderate_max_words"`
	ModerateBudget   int                 `koanf:"moderate_budget"`
	ComplexBudget    int                 `koanf:"complex_budget"`
	RequiredLayers   map[string][]string `koanf:"required_layers"`
}

// SafetyAPIConfig configures the remote content-safety service.
type SafetyAPIConfig struct {
	Enabled           bool          `koanf:"enabled"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            Secret        `koanf:"api_key"`
	APIVersion        string        `koanf:"api_version"`
	Timeout           Duration      `koanf:"timeout"`
	RetryCount        int           `koanf:"retry_count"`
	Backoff           BackoffConfig `koanf:"backoff"`
	RateLimit         float64       `koanf:"rate_limit"`
	Burst             int           `koanf:"burst"`
	DegradedMode      bool          `koanf:"degraded_mode"`
	CategoryThreshold int           `koanf:"category_threshold"`
}

// RulesConfig points at an optional TOML rule pack.
type RulesConfig struct {
	File string `koanf:"file"`
}

// PHIConfig extends the built-in PHI rules.
type PHIConfig struct {
	ExtraRules []PHIRule `koanf:"extra_rules"`
	AllowList  []string  `koanf:"allow_list"`
}

// PHIRule is a user-supplied identifier pattern.
type PHIRule struct {
	ID       string `koanf:"id"`
	Category string `koanf:"category"`
	Pattern  string `koanf:"pattern"`
}

// LLMConfig configures the default action executor.
type LLMConfig struct {
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
}

// SinkConfig selects where finished request logs are persisted.
type SinkConfig struct {
	Kind string `koanf:"kind"`
	Path string `koanf:"path"`
}

// EventsConfig configures NATS progress events.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the subset of logging options exposed through config files.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry options exposed through config files.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

var (
	validDomains   = map[string]bool{"general": true, "medical": true, "legal": true, "financial": true, "technical": true}
	validAudiences = map[string]bool{"general": true, "patient": true, "clinician": true, "expert": true}
	validSinks     = map[string]bool{"none": true, "file": true, "sqlite": true}
	validLayers    = map[string]bool{"L1": true, "L2": true, "L3": true, "L4": true, "L5": true, "L6": true, "L7": true}
	validClasses   = map[string]bool{"simple": true, "moderate": true, "complex": true}
)

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.MinConfidence < 0 || o.MinConfidence > 100 {
		return fmt.Errorf("orchestrator.min_confidence must be within [0,100], got %v", o.MinConfidence)
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be >= 1, got %d", o.MaxIterations)
	}
	if o.ExtensionStep < 1 {
		return fmt.Errorf("orchestrator.extension_step must be >= 1, got %d", o.ExtensionStep)
	}
	if o.MaxTransientRetries < 0 {
		return fmt.Errorf("orchestrator.max_transient_retries must be >= 0")
	}
	if o.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("orchestrator.max_consecutive_failures must be >= 1")
	}
	if o.Deadline.Duration() <= 0 || o.IterationTimeout.Duration() <= 0 || o.LayerTimeout.Duration() <= 0 {
		return errors.New("orchestrator deadline, iteration_timeout and layer_timeout must be positive")
	}
	if err := o.RetryBackoff.validate("orchestrator.retry_backoff"); err != nil {
		return err
	}
	if math.Abs(o.ScorerWeights.Sum()-1) > 1e-6 {
		return fmt.Errorf("orchestrator.scorer_weights must sum to 1, got %v", o.ScorerWeights.Sum())
	}
	for name, w := range o.VerifierWeights {
		if w < 0 {
			return fmt.Errorf("orchestrator.verifier_weights.%s must be >= 0", name)
		}
	}
	if !validDomains[o.Domain] {
		return fmt.Errorf("orchestrator.domain %q is not supported", o.Domain)
	}
	if !validAudiences[o.TargetAudience] {
		return fmt.Errorf("orchestrator.target_audience %q is not supported", o.TargetAudience)
	}

	if c.Pool.Size < 1 || c.Pool.Size > MaxPoolSize {
		return fmt.Errorf("pool.size must be within [1,%d], got %d", MaxPoolSize, c.Pool.Size)
	}

	cx := c.Complexity
	if cx.SimpleMaxChars <= 0 || cx.ModerateMaxChars <= cx.SimpleMaxChars {
		return errors.New("complexity char thresholds must be positive and increasing")
	}
	if cx.SimpleMaxWords <= 0 || cx.ModerateMaxWords <= cx.SimpleMaxWords {
		return errors.New("complexity word thresholds must be positive and increasing")
	}
	if cx.SimpleBudget < 1 || cx.ModerateBudget < 1 || cx.ComplexBudget < 1 {
		return errors.New("complexity budgets must be >= 1")
	}
	for class, layers := range cx.RequiredLayers {
		if !validClasses[class] {
			return fmt.Errorf("complexity.required_layers: unknown class %q", class)
		}
		for _, l := range layers {
			if !validLayers[l] {
				return fmt.Errorf("complexity.required_layers.%s: unknown layer %q", class, l)
			}
		}
	}

	if c.SafetyAPI.Enabled {
		if c.SafetyAPI.BaseURL == "" {
			return errors.New("safety_api.base_url is required when safety_api is enabled")
		}
		if c.SafetyAPI.RetryCount < 0 {
			return errors.New("safety_api.retry_count must be >= 0")
		}
		if err := c.SafetyAPI.Backoff.validate("safety_api.backoff"); err != nil {
			return err
		}
		if c.SafetyAPI.CategoryThreshold < 1 || c.SafetyAPI.CategoryThreshold > 3 {
			return errors.New("safety_api.category_threshold must be within [1,3]")
		}
	}

	if !validSinks[c.Sink.Kind] {
		return fmt.Errorf("sink.kind must be none, file or sqlite, got %q", c.Sink.Kind)
	}
	if c.Sink.Kind != "none" && c.Sink.Path == "" {
		return fmt.Errorf("sink.path is required for sink kind %q", c.Sink.Kind)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	return nil
}

func (b BackoffConfig) validate(name string) error {
	if b.Base.Duration() <= 0 {
		return fmt.Errorf("%s.base must be positive", name)
	}
	if b.Cap.Duration() < b.Base.Duration() {
		return fmt.Errorf("%s.cap must be >= base", name)
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		return fmt.Errorf("%s.jitter must be within [0,1]", name)
	}
	return nil
}
