package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/ultrathink/internal/complexity"
	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// validate checks request options and loop configuration.
var validate = validator.New()

// Request is one prompt to process.
type Request struct {
	Prompt  string  `json:"prompt"`
	Options Options `json:"options"`
}

// Options override the process configuration for one request. Nil and
// empty fields keep the configured value.
type Options struct {
	MinConfidence        *float64 `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxIterations        *int     `json:"max_iterations,omitempty" validate:"omitempty,gte=1,lte=100"`
	EnableAdaptiveLimits *bool    `json:"enable_adaptive_limits,omitempty"`
	EnableProfiling      *bool    `json:"enable_profiling,omitempty"`
	TargetAudience       string   `json:"target_audience,omitempty" validate:"omitempty,oneof=general patient clinician expert"`
	Domain               string   `json:"domain,omitempty" validate:"omitempty,oneof=general medical legal financial technical"`
	SourceDocuments      []string `json:"source_documents,omitempty" validate:"max=100"`
}

// Config is the loop configuration.
type Config struct {
	MinConfidence          float64       `json:"min_confidence" validate:"gte=0,lte=100"`
	MaxIterations          int           `json:"max_iterations" validate:"gte=1,lte=100"`
	EnableAdaptiveLimits   bool          `json:"enable_adaptive_limits"`
	EnableProfiling        bool          `json:"enable_profiling"`
	ExtensionStep          int           `json:"extension_step" validate:"gte=1"`
	MaxTransientRetries    int           `json:"max_transient_retries" validate:"gte=0"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures" validate:"gte=1"`
	Deadline               time.Duration `json:"deadline" validate:"gt=0"`
	IterationTimeout       time.Duration `json:"iteration_timeout" validate:"gt=0"`
	RetryBackoff           Backoff       `json:"retry_backoff"`
	TargetAudience         string        `json:"target_audience" validate:"oneof=general patient clinician expert"`
	Domain                 string        `json:"domain" validate:"oneof=general medical legal financial technical"`
	SourceDocuments        []string      `json:"source_documents,omitempty"`
}

// Backoff is the retry delay for transient stage failures.
type Backoff struct {
	Base   time.Duration `json:"base" validate:"gt=0"`
	Cap    time.Duration `json:"cap" validate:"gtefield=Base"`
	Jitter float64       `json:"jitter" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the stock loop configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:          96,
		MaxIterations:          10,
		EnableAdaptiveLimits:   true,
		EnableProfiling:        true,
		ExtensionStep:          3,
		MaxTransientRetries:    3,
		MaxConsecutiveFailures: 3,
		Deadline:               300 * time.Second,
		IterationTimeout:       120 * time.Second,
		RetryBackoff:           Backoff{Base: 500 * time.Millisecond, Cap: 8 * time.Second, Jitter: 0.2},
		TargetAudience:         "general",
		Domain:                 "general",
	}
}

// FromSettings maps the orchestrator section onto a Config. Zero values
// keep the defaults, booleans are taken as is.
func FromSettings(s config.OrchestratorConfig) Config {
	cfg := DefaultConfig()
	cfg.MinConfidence = s.MinConfidence
	if s.MaxIterations > 0 {
		cfg.MaxIterations = s.MaxIterations
	}
	cfg.EnableAdaptiveLimits = s.EnableAdaptiveLimits
	cfg.EnableProfiling = s.EnableProfiling
	if s.ExtensionStep > 0 {
		cfg.ExtensionStep = s.ExtensionStep
	}
	if s.MaxTransientRetries > 0 {
		cfg.MaxTransientRetries = s.MaxTransientRetries
	}
	if s.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = s.MaxConsecutiveFailures
	}
	if s.Deadline > 0 {
		cfg.Deadline = s.Deadline.Duration()
	}
	if s.IterationTimeout > 0 {
		cfg.IterationTimeout = s.IterationTimeout.Duration()
	}
	if s.RetryBackoff.Base > 0 {
		cfg.RetryBackoff.Base = s.RetryBackoff.Base.Duration()
	}
	if s.RetryBackoff.Cap > 0 {
		cfg.RetryBackoff.Cap = s.RetryBackoff.Cap.Duration()
	}
	if s.RetryBackoff.Jitter > 0 {
		cfg.RetryBackoff.Jitter = s.RetryBackoff.Jitter
	}
	if s.Domain != "" {
		cfg.Domain = s.Domain
	}
	if s.TargetAudience != "" {
		cfg.TargetAudience = s.TargetAudience
	}
	cfg.SourceDocuments = append([]string(nil), s.SourceDocuments...)
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid orchestrator config: %w", err)
	}
	return nil
}

// HardCeiling is the most iterations a request may ever run.
func (c Config) HardCeiling() int {
	if c.EnableAdaptiveLimits {
		return 2 * c.MaxIterations
	}
	return c.MaxIterations
}

// Resolve validates opts and merges them over c.
func (c Config) Resolve(opts Options) (Config, error) {
	if err := validate.Struct(opts); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	out := c
	if opts.MinConfidence != nil {
		out.MinConfidence = *opts.MinConfidence
	}
	if opts.MaxIterations != nil {
		out.MaxIterations = *opts.MaxIterations
	}
	if opts.EnableAdaptiveLimits != nil {
		out.EnableAdaptiveLimits = *opts.EnableAdaptiveLimits
	}
	if opts.EnableProfiling != nil {
		out.EnableProfiling = *opts.EnableProfiling
	}
	if opts.TargetAudience != "" {
		out.TargetAudience = opts.TargetAudience
	}
	if opts.Domain != "" {
		out.Domain = opts.Domain
	}
	if opts.SourceDocuments != nil {
		out.SourceDocuments = append([]string(nil), opts.SourceDocuments...)
	}
	return out, nil
}

// fingerprintView is the part of the configuration that changes a
// request's meaning.
func (c Config) fingerprintView() map[string]any {
	return map[string]any{
		"min_confidence":         c.MinConfidence,
		"max_iterations":         c.MaxIterations,
		"enable_adaptive_limits": c.EnableAdaptiveLimits,
		"domain":                 c.Domain,
		"target_audience":        c.TargetAudience,
		"source_documents":       c.SourceDocuments,
	}
}

// Result is the outcome of Process. Every processed request yields one.
type Result struct {
	Success             bool                      `json:"success"`
	Output              string                    `json:"output"`
	Confidence          float64                   `json:"confidence"`
	IterationsPerformed int                       `json:"iterations_performed"`
	Duration            time.Duration             `json:"duration"`
	IterationLog        *iterlog.Log              `json:"-"`
	FinalAggregate      validation.Aggregate      `json:"final_aggregate"`
	InputValidation     validation.Aggregate      `json:"input_validation"`
	Error               ErrorCategory             `json:"error,omitempty"`
	ErrorDetail         string                    `json:"error_detail,omitempty"`
	RequestID           string                    `json:"request_id"`
	Fingerprint         string                    `json:"fingerprint"`
	Complexity          complexity.Classification `json:"complexity"`
	EffectiveMax        int                       `json:"effective_max_iterations"`
}

// ToMap renders the result in its serialized form. Durations are seconds.
func (r *Result) ToMap() map[string]any {
	m := map[string]any{
		"success":                  r.Success,
		"output":                   r.Output,
		"confidence":               r.Confidence,
		"iterations_performed":     r.IterationsPerformed,
		"duration":                 r.Duration.Seconds(),
		"final_aggregate":          r.FinalAggregate,
		"input_validation":         r.InputValidation,
		"request_id":               r.RequestID,
		"fingerprint":              r.Fingerprint,
		"complexity":               string(r.Complexity.Class),
		"effective_max_iterations": r.EffectiveMax,
	}
	if r.Error != "" {
		m["error"] = string(r.Error)
		m["error_detail"] = r.ErrorDetail
	}
	if r.IterationLog != nil {
		doc := r.IterationLog.Document()
		m["iteration_log"] = doc["iterations"]
		m["sanitized_prompt"] = doc["sanitized_prompt"]
	}
	return m
}

// Document is ToMap plus the performance profile when profiling was on.
func (r *Result) Document() map[string]any {
	m := r.ToMap()
	if r.IterationLog != nil && r.IterationLog.Profiling() {
		m["performance_profile"] = r.IterationLog.Profile().ToMap()
	}
	return m
}

// Stats summarizes every request processed so far.
type Stats struct {
	Requests           int                `json:"requests"`
	Successes          int                `json:"successes"`
	Failures           int                `json:"failures"`
	AvgConfidence      float64            `json:"avg_confidence"`
	AvgIterations      float64            `json:"avg_iterations"`
	AvgDurationSeconds float64            `json:"avg_duration_s"`
	LayerPassRates     map[string]float64 `json:"layer_pass_rates"`
}
