package verify

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Config tunes the verifiers.
type Config struct {
	// Weights feed the verifier confidence; missing verifiers weigh 1.
	Weights map[validation.LayerID]float64

	// PassConfidence is the confidence a verifier needs to pass.
	PassConfidence float64

	// Timeout bounds each verifier once it starts. Zero means no bound.
	Timeout time.Duration

	// Quality bounds (V4).
	MaxLength           int
	MinWords            int
	MaxAvgSentenceWords float64
	MaxDuplicateRatio   float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		PassConfidence:      70,
		Timeout:             30 * time.Second,
		MaxLength:           8000,
		MinWords:            1,
		MaxAvgSentenceWords: 40,
		MaxDuplicateRatio:   0.3,
	}
}

// FromSettings overlays configured weights and timeout on the defaults.
func FromSettings(weights map[string]float64, timeout time.Duration) Config {
	cfg := DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if len(weights) > 0 {
		cfg.Weights = make(map[validation.LayerID]float64, len(weights))
		for id, w := range weights {
			cfg.Weights[validation.LayerID(id)] = w
		}
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for id, w := range c.Weights {
		if !id.Known() || id.IsGuardrail() {
			return fmt.Errorf("verifier_weights: %q is not a verifier", id)
		}
		if w < 0 {
			return fmt.Errorf("verifier_weights: %s weight must not be negative", id)
		}
	}
	if c.PassConfidence < 0 || c.PassConfidence > 100 {
		return fmt.Errorf("pass confidence must be in [0,100], got %v", c.PassConfidence)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxLength < 1 {
		return fmt.Errorf("max length must be positive")
	}
	if c.MinWords < 0 {
		return fmt.Errorf("min words must not be negative")
	}
	if c.MaxAvgSentenceWords <= 0 {
		return fmt.Errorf("max average sentence words must be positive")
	}
	if c.MaxDuplicateRatio < 0 || c.MaxDuplicateRatio > 1 {
		return fmt.Errorf("max duplicate ratio must be in [0,1]")
	}
	return nil
}

func (c Config) weight(id validation.LayerID) float64 {
	if w, ok := c.Weights[id]; ok {
		return w
	}
	return 1
}
