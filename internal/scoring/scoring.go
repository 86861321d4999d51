// Package scoring combines guardrail, verifier, prompt and efficiency
// signals into the single 0-100 confidence the loop is judged by.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

// Weights are the scorer weights. They must sum to 1.
type Weights struct {
	Guardrail  float64 `json:"guardrail"`
	Verifier   float64 `json:"verifier"`
	Prompt     float64 `json:"prompt"`
	Efficiency float64 `json:"efficiency"`
}

// DefaultWeights returns 0.30/0.30/0.15/0.25.
func DefaultWeights() Weights {
	return Weights{Guardrail: 0.30, Verifier: 0.30, Prompt: 0.15, Efficiency: 0.25}
}

// FromSettings converts configured weights; an all-zero section yields the
// defaults.
func FromSettings(s config.ScorerWeights) Weights {
	if s.Sum() == 0 {
		return DefaultWeights()
	}
	return Weights{Guardrail: s.Guardrail, Verifier: s.Verifier, Prompt: s.Prompt, Efficiency: s.Efficiency}
}

const weightTolerance = 1e-6

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"guardrail": w.Guardrail, "verifier": w.Verifier, "prompt": w.Prompt, "efficiency": w.Efficiency,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%s weight must be a non-negative number, got %v", name, v)
		}
	}
	if sum := w.Guardrail + w.Verifier + w.Prompt + w.Efficiency; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Inputs are the signals for one iteration. G, V and P are 0-100; E is 0-1.
type Inputs struct {
	G float64
	V float64
	P float64
	E float64
}

// Scorer is immutable and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// New validates w and returns a Scorer.
func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scorer weights: %w", err)
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the scorer weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns wG*G + wV*V + wP*P + wE*E*100 clamped to [0,100].
func (s *Scorer) Score(in Inputs) float64 {
	w := s.weights
	return clamp(w.Guardrail*in.G+w.Verifier*in.V+w.Prompt*in.P+w.Efficiency*in.E*100, 0, 100)
}

// Efficiency is 1 on the first iteration and decays quadratically with the
// larger of the iteration budget used and the deadline used.
func Efficiency(iteration, hardCeiling int, elapsed, deadline time.Duration) float64 {
	if iteration <= 1 {
		return 1
	}
	var u float64
	if hardCeiling > 0 {
		u = float64(iteration-1) / float64(hardCeiling)
	}
	if deadline > 0 {
		u = max(u, float64(elapsed)/float64(deadline))
	}
	u = clamp(u, 0, 1)
	return 1 - u*u
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
