package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "confidence above 100", mutate: func(c *Config) { c.MinConfidence = 101 }, wantErr: true},
		{name: "zero iterations", mutate: func(c *Config) { c.MaxIterations = 0 }, wantErr: true},
		{name: "zero deadline", mutate: func(c *Config) { c.Deadline = 0 }, wantErr: true},
		{name: "unknown domain", mutate: func(c *Config) { c.Domain = "astrology" }, wantErr: true},
		{name: "cap below base", mutate: func(c *Config) { c.RetryBackoff.Cap = time.Millisecond }, wantErr: true},
		{name: "jitter above 1", mutate: func(c *Config) { c.RetryBackoff.Jitter = 1.5 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.OrchestratorConfig{
		MinConfidence:        90,
		MaxIterations:        4,
		EnableAdaptiveLimits: false,
		EnableProfiling:      true,
		Deadline:             config.Duration(time.Minute),
		Domain:               "medical",
		SourceDocuments:      []string{"doc"},
	})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 90.0, cfg.MinConfidence)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 4, cfg.HardCeiling())
	assert.Equal(t, time.Minute, cfg.Deadline)
	assert.Equal(t, 120*time.Second, cfg.IterationTimeout)
	assert.Equal(t, "medical", cfg.Domain)
	assert.Equal(t, "general", cfg.TargetAudience)
	assert.Equal(t, 3, cfg.ExtensionStep)
}

func TestConfig_Resolve(t *testing.T) {
	base := DefaultConfig()

	cfg, err := base.Resolve(Options{
		MinConfidence:   ptr(80.0),
		MaxIterations:   ptr(3),
		EnableProfiling: ptr(false),
		Domain:          "legal",
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.MinConfidence)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 6, cfg.HardCeiling())
	assert.False(t, cfg.EnableProfiling)
	assert.Equal(t, "legal", cfg.Domain)
	assert.Equal(t, base.TargetAudience, cfg.TargetAudience)

	_, err = base.Resolve(Options{MaxIterations: ptr(0)})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = base.Resolve(Options{MinConfidence: ptr(-1.0)})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = base.Resolve(Options{TargetAudience: "children"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
