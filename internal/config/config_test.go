package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "max iterations below one",
			mutate:  func(c *Config) { c.Orchestrator.MaxIterations = 0 },
			wantErr: "max_iterations",
		},
		{
			name:    "negative min confidence",
			mutate:  func(c *Config) { c.Orchestrator.MinConfidence = -1 },
			wantErr: "min_confidence",
		},
		{
			name:    "weights do not sum to one",
			mutate:  func(c *Config) { c.Orchestrator.ScorerWeights.Prompt = 0.5 },
			wantErr: "scorer_weights",
		},
		{
			name:    "pool above cap",
			mutate:  func(c *Config) { c.Pool.Size = MaxPoolSize + 1 },
			wantErr: "pool.size",
		},
		{
			name:    "unknown domain",
			mutate:  func(c *Config) { c.Orchestrator.Domain = "astrology" },
			wantErr: "domain",
		},
		{
			name:    "unknown required layer",
			mutate:  func(c *Config) { c.Complexity.RequiredLayers["simple"] = []string{"L9"} },
			wantErr: "unknown layer",
		},
		{
			name: "safety api enabled without url",
			mutate: func(c *Config) {
				c.SafetyAPI.Enabled = true
				c.SafetyAPI.BaseURL = ""
			},
			wantErr: "base_url",
		},
		{
			name:    "file sink without path",
			mutate:  func(c *Config) { c.Sink.Kind = "file" },
			wantErr: "sink.path",
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *Config) { c.Orchestrator.RetryBackoff.Cap = Duration(time.Millisecond) },
			wantErr: "cap",
		},
		{
			name:    "events without url",
			mutate:  func(c *Config) { c.Events.Enabled = true },
			wantErr: "events.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrintsValue(t *testing.T) {
	s := Secret("hunter2hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))
	assert.Equal(t, "hunter2hunter2", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
}
