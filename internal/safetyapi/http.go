package safetyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
)

// Operation names used in logs and observer callbacks.
const (
	OpClassify     = "classify_text"
	OpShield       = "prompt_shield"
	OpGroundedness = "groundedness"
)

// Outcomes reported to the observer.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
)

const apiKeyHeader = "Ocp-Apim-Subscription-Key"

// HTTPClient talks JSON to an Azure-style content-safety endpoint.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	observe    func(op, outcome string)
}

// Option configures HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *logging.Logger) Option {
	return func(h *HTTPClient) { h.logger = l }
}

// WithObserver registers a callback invoked once per operation with its
// final outcome.
func WithObserver(fn func(op, outcome string)) Option {
	return func(h *HTTPClient) { h.observe = fn }
}

// NewHTTPClient validates cfg and returns a client.
func NewHTTPClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid safety api config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	h := &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:     logging.NewNop(),
		observe:    func(string, string) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type analyzeRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	OutputType string   `json:"outputType"`
}

type analyzeResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

type shieldRequest struct {
	UserPrompt string   `json:"userPrompt"`
	Documents  []string `json:"documents"`
}

type attackAnalysis struct {
	AttackDetected bool `json:"attackDetected"`
}

type shieldResponse struct {
	UserPromptAnalysis attackAnalysis   `json:"userPromptAnalysis"`
	DocumentsAnalysis  []attackAnalysis `json:"documentsAnalysis"`
}

type groundednessRequest struct {
	Domain           string   `json:"domain"`
	Task             string   `json:"task"`
	QnA              *qna     `json:"qna,omitempty"`
	Text             string   `json:"text"`
	GroundingSources []string `json:"groundingSources"`
	Reasoning        bool     `json:"reasoning"`
}

type qna struct {
	Query string `json:"query"`
}

type groundednessResponse struct {
	UngroundedDetected   bool    `json:"ungroundedDetected"`
	UngroundedPercentage float64 `json:"ungroundedPercentage"`
}

var serviceCategories = map[string]string{
	"Hate":     CategoryHate,
	"Sexual":   CategorySexual,
	"Violence": CategoryViolence,
	"SelfHarm": CategorySelfHarm,
}

// ClassifyText calls text:analyze. Service severities (0, 2, 4, 6) are
// normalized to 0-3.
func (h *HTTPClient) ClassifyText(ctx context.Context, text string) TextClassification {
	req := analyzeRequest{
		Text:       text,
		Categories: []string{"Hate", "Sexual", "Violence", "SelfHarm"},
		OutputType: "FourSeverityLevels",
	}
	var resp analyzeResponse
	if err := h.call(ctx, OpClassify, "/contentsafety/text:analyze", h.cfg.APIVersion, req, &resp); err != nil {
		return TextClassification{Unavailable: true, Err: err.Error()}
	}

	out := TextClassification{Categories: make(map[string]int, len(resp.CategoriesAnalysis))}
	for _, c := range resp.CategoriesAnalysis {
		name, ok := serviceCategories[c.Category]
		if !ok {
			name = strings.ToLower(c.Category)
		}
		out.Categories[name] = normalizeSeverity(c.Severity)
	}
	return out
}

// CheckPromptShield calls text:shieldPrompt.
func (h *HTTPClient) CheckPromptShield(ctx context.Context, prompt string, docs []string) ShieldResult {
	if docs == nil {
		docs = []string{}
	}
	var resp shieldResponse
	if err := h.call(ctx, OpShield, "/contentsafety/text:shieldPrompt", h.cfg.APIVersion, shieldRequest{UserPrompt: prompt, Documents: docs}, &resp); err != nil {
		return ShieldResult{Unavailable: true, Err: err.Error()}
	}

	out := ShieldResult{AttackDetected: resp.UserPromptAnalysis.AttackDetected}
	for _, d := range resp.DocumentsAnalysis {
		out.DocumentAttacks = append(out.DocumentAttacks, d.AttackDetected)
	}
	return out
}

// CheckGroundedness calls text:detectGroundedness.
func (h *HTTPClient) CheckGroundedness(ctx context.Context, req GroundednessRequest) GroundednessResult {
	body := groundednessRequest{
		Domain:           "Generic",
		Task:             "Summarization",
		Text:             req.Output,
		GroundingSources: req.Sources,
	}
	if req.Domain == "medical" {
		body.Domain = "Medical"
	}
	if req.Query != "" {
		body.Task = "QnA"
		body.QnA = &qna{Query: req.Query}
	}

	var resp groundednessResponse
	if err := h.call(ctx, OpGroundedness, "/contentsafety/text:detectGroundedness", defaultGroundednessAPIVersion, body, &resp); err != nil {
		return GroundednessResult{Unavailable: true, Err: err.Error()}
	}

	fraction := resp.UngroundedPercentage
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return GroundednessResult{UngroundedFraction: fraction}
}

// call performs one operation with rate limiting and retries. Transport
// failures, 429 and 5xx responses are retried; anything else is final.
func (h *HTTPClient) call(ctx context.Context, op, path, version string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	endpoint := fmt.Sprintf("%s%s?api-version=%s", h.cfg.BaseURL, path, version)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.BaseDelay
	b.MaxInterval = h.cfg.MaxDelay
	b.RandomizationFactor = h.cfg.Jitter
	b.Multiplier = 2

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := h.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		err := h.doRequest(ctx, endpoint, payload, out)
		var re *retryableError
		if err != nil && !errors.As(err, &re) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(h.cfg.RetryCount+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Debug(ctx, "safety api retry",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		h.logger.Warn(ctx, "safety api unavailable",
			zap.String("operation", op),
			zap.Int("attempts", attempt),
			zap.Error(err))
		h.observe(op, OutcomeUnavailable)
		return err
	}
	h.observe(op, OutcomeOK)
	return nil
}

func (h *HTTPClient) doRequest(ctx context.Context, endpoint string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey.IsSet() {
		req.Header.Set(apiKeyHeader, h.cfg.APIKey.Value())
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("api error (%d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// normalizeSeverity maps the service's 0/2/4/6 scale onto 0-3.
func normalizeSeverity(s int) int {
	n := (s + 1) / 2
	if n < 0 {
		return 0
	}
	if n > MaxCategorySeverity {
		return MaxCategorySeverity
	}
	return n
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Client = (*HTTPClient)(nil)
