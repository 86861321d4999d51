package safetyapi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

const (
	defaultAPIVersion             = "2024-09-01"
	defaultGroundednessAPIVersion = "2024-09-15-preview"
	defaultTimeout                = 10 * time.Second
	defaultRetryCount             = 3
	defaultBaseBackoff            = 500 * time.Millisecond
	defaultMaxBackoff             = 8 * time.Second
	defaultJitter                 = 0.2
	defaultRateLimit              = 10.0
	defaultBurst                  = 5
)

// Config configures HTTPClient.
type Config struct {
	BaseURL    string
	APIKey     config.Secret
	APIVersion string
	Timeout    time.Duration
	RetryCount int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
	RateLimit  float64
	Burst      int
}

// FromSettings converts the safety_api config section.
func FromSettings(s config.SafetyAPIConfig) Config {
	return Config{
		BaseURL:    s.BaseURL,
		APIKey:     s.APIKey,
		APIVersion: s.APIVersion,
		Timeout:    s.Timeout.Duration(),
		RetryCount: s.RetryCount,
		BaseDelay:  s.Backoff.Base.Duration(),
		MaxDelay:   s.Backoff.Cap.Duration(),
		Jitter:     s.Backoff.Jitter,
		RateLimit:  s.RateLimit,
		Burst:      s.Burst,
	}
}

func (c *Config) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = defaultRetryCount
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseBackoff
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxBackoff
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = defaultJitter
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("backoff cap must be >= base")
	}
	return nil
}
