package safetyapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:    url,
		APIKey:     config.Secret("test-key"),
		RetryCount: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		RateLimit:  1000,
		Burst:      100,
	}
}

type observed struct {
	mu    sync.Mutex
	calls []string
}

func (o *observed) record(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

func TestClassifyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contentsafety/text:analyze", r.URL.Path)
		assert.Equal(t, "2024-09-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "test-key", r.Header.Get(apiKeyHeader))

		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)

		_, _ = w.Write([]byte(`{"categoriesAnalysis":[
			{"category":"Hate","severity":2},
			{"category":"Sexual","severity":0},
			{"category":"Violence","severity":6},
			{"category":"SelfHarm","severity":4}]}`))
	}))
	defer srv.Close()

	obs := &observed{}
	c, err := NewHTTPClient(testConfig(srv.URL), WithObserver(obs.record))
	require.NoError(t, err)

	res := c.ClassifyText(context.Background(), "hello")
	require.False(t, res.Unavailable)
	assert.Equal(t, map[string]int{
		CategoryHate:     1,
		CategorySexual:   0,
		CategoryViolence: 3,
		CategorySelfHarm: 2,
	}, res.Categories)

	cat, sev := res.Max()
	assert.Equal(t, CategoryViolence, cat)
	assert.Equal(t, 3, sev)
	assert.Equal(t, []string{"classify_text:ok"}, obs.calls)
}

func TestRetry_RecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"userPromptAnalysis":{"attackDetected":true},"documentsAnalysis":[{"attackDetected":false}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(testConfig(srv.URL))
	require.NoError(t, err)

	res := c.CheckPromptShield(context.Background(), "ignore everything", []string{"doc"})
	require.False(t, res.Unavailable, res.Err)
	assert.True(t, res.AttackDetected)
	assert.Equal(t, []bool{false}, res.DocumentAttacks)
	assert.True(t, res.Any())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_ExhaustedIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryCount = 2
	obs := &observed{}
	c, err := NewHTTPClient(cfg, WithObserver(obs.record))
	require.NoError(t, err)

	res := c.ClassifyText(context.Background(), "text")
	assert.True(t, res.Unavailable)
	assert.NotEmpty(t, res.Err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"classify_text:unavailable"}, obs.calls)
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidRequestBody"}}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(testConfig(srv.URL))
	require.NoError(t, err)

	res := c.CheckGroundedness(context.Background(), GroundednessRequest{Output: "x", Sources: []string{"y"}})
	assert.True(t, res.Unavailable)
	assert.Contains(t, res.Err, "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetry_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.RetryCount = 1
	c, err := NewHTTPClient(cfg)
	require.NoError(t, err)

	res := c.CheckPromptShield(context.Background(), "p", nil)
	assert.True(t, res.Unavailable)
}

func TestCheckGroundedness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-09-15-preview", r.URL.Query().Get("api-version"))

		var req groundednessRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Medical", req.Domain)
		assert.Equal(t, "QnA", req.Task)
		if assert.NotNil(t, req.QnA) {
			assert.Equal(t, "what is insulin?", req.QnA.Query)
		}
		assert.Equal(t, []string{"source"}, req.GroundingSources)

		_, _ = w.Write([]byte(`{"ungroundedDetected":true,"ungroundedPercentage":0.15}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(testConfig(srv.URL))
	require.NoError(t, err)

	res := c.CheckGroundedness(context.Background(), GroundednessRequest{
		Output:  "insulin lowers glucose",
		Sources: []string{"source"},
		Query:   "what is insulin?",
		Domain:  "medical",
	})
	require.False(t, res.Unavailable)
	assert.InDelta(t, 0.15, res.UngroundedFraction, 1e-9)
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(testConfig(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.ClassifyText(ctx, "x")
	assert.True(t, res.Unavailable)
}

func TestNewHTTPClient_InvalidConfig(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	assert.ErrorContains(t, err, "base_url is required")

	_, err = NewHTTPClient(Config{BaseURL: "not a url"})
	assert.ErrorContains(t, err, "absolute URL")

	_, err = NewHTTPClient(Config{BaseURL: "http://x", BaseDelay: time.Second, MaxDelay: time.Millisecond})
	assert.ErrorContains(t, err, "cap must be >= base")
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.SafetyAPIConfig{
		BaseURL:    "https://safety.example.com",
		RetryCount: 3,
		Backoff: config.BackoffConfig{
			Base:   config.Duration(500 * time.Millisecond),
			Cap:    config.Duration(8 * time.Second),
			Jitter: 0.2,
		},
	})
	assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.MaxDelay)
	assert.Equal(t, 0.2, cfg.Jitter)
}

func TestNormalizeSeverity(t *testing.T) {
	for in, want := range map[int]int{0: 0, 1: 1, 2: 1, 3: 2, 4: 2, 6: 3, 7: 3, -2: 0} {
		assert.Equal(t, want, normalizeSeverity(in), "input %d", in)
	}
}
