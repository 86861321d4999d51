package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

func TestScore(t *testing.T) {
	s, err := New(DefaultWeights())
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Inputs
		want float64
	}{
		{name: "perfect first iteration", in: Inputs{G: 100, V: 100, P: 100, E: 1}, want: 100},
		{name: "groundedness warning", in: Inputs{G: 90, V: 100, P: 100, E: 1}, want: 97},
		{name: "phi failure", in: Inputs{G: 50, V: 100, P: 100, E: 1}, want: 85},
		{name: "nothing", in: Inputs{}, want: 0},
		{name: "clamped high", in: Inputs{G: 200, V: 200, P: 200, E: 2}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.in), 1e-9)
		})
	}
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Prompt = 0.2
	assert.ErrorContains(t, w.Validate(), "sum to 1")

	w = Weights{Guardrail: 1.2, Verifier: -0.2}
	assert.ErrorContains(t, w.Validate(), "non-negative")

	_, err := New(Weights{})
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	assert.Equal(t, DefaultWeights(), FromSettings(config.ScorerWeights{}))
	w := FromSettings(config.ScorerWeights{Guardrail: 0.4, Verifier: 0.4, Prompt: 0.1, Efficiency: 0.1})
	assert.Equal(t, 0.4, w.Guardrail)
	assert.NoError(t, w.Validate())
}

func TestEfficiency(t *testing.T) {
	assert.Equal(t, 1.0, Efficiency(1, 10, time.Hour, time.Second))
	assert.InDelta(t, 1-0.01, Efficiency(2, 10, 0, 0), 1e-9)
	assert.InDelta(t, 0.75, Efficiency(2, 10, 150*time.Second, 300*time.Second), 1e-9)
	assert.Equal(t, 0.0, Efficiency(30, 10, 0, 0))

	prev := 1.0
	for k := 2; k <= 20; k++ {
		e := Efficiency(k, 20, 0, 0)
		assert.LessOrEqual(t, e, prev)
		prev = e
	}
}
