package guardrails

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Config tunes the pipeline.
type Config struct {
	// LayerTimeout bounds each layer once it starts. Zero means no bound.
	LayerTimeout time.Duration

	// DegradedMode turns shield and classifier outages into warnings.
	DegradedMode bool

	// CategoryThreshold is the remote classifier severity (0-3) at which
	// L2 and L5 fail.
	CategoryThreshold int

	// MaxUngroundedFraction is the largest unsupported share L6 accepts.
	MaxUngroundedFraction float64

	// LayerWeights feed WeightedConfidence; missing layers weigh 1.
	LayerWeights map[validation.LayerID]float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		LayerTimeout:          30 * time.Second,
		CategoryThreshold:     2,
		MaxUngroundedFraction: 0.2,
	}
}

// FromSettings builds a Config from the orchestrator and safety API sections.
func FromSettings(o config.OrchestratorConfig, api config.SafetyAPIConfig) Config {
	cfg := DefaultConfig()
	if o.LayerTimeout > 0 {
		cfg.LayerTimeout = o.LayerTimeout.Duration()
	}
	cfg.DegradedMode = api.DegradedMode
	if api.CategoryThreshold > 0 {
		cfg.CategoryThreshold = api.CategoryThreshold
	}
	for id, w := range o.LayerWeights {
		if cfg.LayerWeights == nil {
			cfg.LayerWeights = make(map[validation.LayerID]float64, len(o.LayerWeights))
		}
		cfg.LayerWeights[validation.LayerID(id)] = w
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.LayerTimeout < 0 {
		return fmt.Errorf("layer_timeout must not be negative")
	}
	if c.CategoryThreshold < 1 || c.CategoryThreshold > 3 {
		return fmt.Errorf("category_threshold must be in [1,3], got %d", c.CategoryThreshold)
	}
	if c.MaxUngroundedFraction < 0 || c.MaxUngroundedFraction > 1 {
		return fmt.Errorf("max ungrounded fraction must be in [0,1], got %v", c.MaxUngroundedFraction)
	}
	for id, w := range c.LayerWeights {
		if !id.IsGuardrail() {
			return fmt.Errorf("layer_weights: %q is not a guardrail layer", id)
		}
		if w < 0 {
			return fmt.Errorf("layer_weights: %s weight must not be negative", id)
		}
	}
	return nil
}

func (c Config) weight(id validation.LayerID) float64 {
	if w, ok := c.LayerWeights[id]; ok {
		return w
	}
	return 1
}
