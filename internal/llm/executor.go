// Package llm provides an orchestrator.ActionExecutor backed by a
// langchaingo model.
//
// The executor builds one system message from the request domain and
// audience and one human message holding the gathered context, the
// prompt and the feedback of the previous iteration. Feedback is how the
// refinement loop steers the model toward passing the failed checks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/telemetry"
)

// Providers understood by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Executor calls a langchaingo model once per iteration.
type Executor struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *logging.Logger
	tracer      trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger; the default discards.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l.Named("llm") }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Executor) { e.temperature = t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

// WithTimeout bounds a single model call.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// NewExecutor wraps model. name is reported in logs and spans.
func NewExecutor(model llms.Model, name string, opts ...Option) *Executor {
	e := &Executor{
		model:     model,
		name:      name,
		maxTokens: 1024,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer("github.com/fyrsmithlabs/ultrathink/internal/llm"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New builds an executor for the configured provider.
func New(cfg config.LLMConfig, logger *logging.Logger) (*Executor, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if key := cfg.APIKey.Value(); key != "" {
			opts = append(opts, openai.WithToken(key))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: creating %s client: %w", cfg.Provider, err)
	}

	opts := []Option{WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout.Duration()))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return NewExecutor(model, cfg.Provider+"/"+cfg.Model, opts...), nil
}

var _ orchestrator.ActionExecutor = (*Executor)(nil)

// Execute implements orchestrator.ActionExecutor.
func (e *Executor) Execute(ctx context.Context, task orchestrator.Task, gathered orchestrator.Context) (orchestrator.Action, error) {
	ctx, span := e.tracer.Start(ctx, "ultrathink.llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", e.name),
			attribute.Int("iteration", task.Iteration),
			attribute.Int("feedback.count", len(task.Feedback)),
		))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	msgs := Messages(task, gathered)
	start := time.Now()
	resp, err := e.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(e.temperature),
		llms.WithMaxTokens(e.maxTokens),
	)
	if err != nil {
		spanErr = err
		e.logger.Warn(ctx, "model call failed",
			zap.String("model", e.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return orchestrator.Action{}, orchestrator.MarkTransient(err)
		}
		return orchestrator.Action{}, fmt.Errorf("llm: generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		spanErr = ErrEmptyResponse
		return orchestrator.Action{}, orchestrator.MarkTransient(ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	e.logger.Debug(ctx, "model call completed",
		zap.String("model", e.name),
		zap.Int("output_len", len(choice.Content)),
		zap.Duration("elapsed", time.Since(start)))

	return orchestrator.Action{
		Output: choice.Content,
		Metadata: map[string]any{
			"model":       e.name,
			"stop_reason": choice.StopReason,
		},
	}, nil
}

// Messages builds the chat exchange sent for one iteration.
func Messages(task orchestrator.Task, gathered orchestrator.Context) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(task)),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(task, gathered)),
	}
}

func systemPrompt(task orchestrator.Task) string {
	var b strings.Builder
	b.WriteString("You are a careful assistant. Answer accurately and completely, and do not invent facts.")
	if task.Domain != "" && task.Domain != "general" {
		fmt.Fprintf(&b, " The question is in the %s domain.", task.Domain)
	}
	switch task.Domain {
	case "medical":
		b.WriteString(" Include a disclaimer that the answer is not a substitute for professional medical advice.")
	case "legal":
		b.WriteString(" Include a disclaimer that the answer is not legal advice.")
	case "financial":
		b.WriteString(" Include a disclaimer that the answer is not financial advice.")
	}
	if task.Audience != "" && task.Audience != "general" {
		fmt.Fprintf(&b, " Write for a %s audience.", task.Audience)
	}
	if len(task.Sources) > 0 {
		b.WriteString(" Base every claim on the provided sources.")
	}
	return b.String()
}

func userPrompt(task orchestrator.Task, gathered orchestrator.Context) string {
	var b strings.Builder
	if gathered.Text != "" {
		b.WriteString("Context:\n")
		b.WriteString(gathered.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(task.Prompt)
	if len(task.Feedback) > 0 {
		b.WriteString("\n\nYour previous answer was rejected. Address every issue below:\n")
		for _, f := range task.Feedback {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}
