// Package verify runs the four output verifiers: logical consistency (V1),
// factual accuracy (V2), completeness (V3) and quality (V4).
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/telemetry"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

// Input is what the verifiers inspect.
type Input struct {
	Prompt       string
	Output       string
	Sources      []string
	Domain       string
	SubQuestions []string
	// Complex makes V3 mandatory.
	Complex bool
	// Required limits which verifiers run; nil runs all four.
	Required func(validation.LayerID) bool
}

// Report is the combined verifier outcome.
type Report struct {
	Checks          []Check              `json:"checks"`
	Results         []validation.Result  `json:"results"`
	Confidence      float64              `json:"confidence"`
	Passed          bool                 `json:"passed"`
	MandatoryFailed []validation.LayerID `json:"mandatory_failed,omitempty"`
}

// Aggregate returns the report as a validation aggregate.
func (r Report) Aggregate() validation.Aggregate {
	return validation.Aggregate{
		Passed:             r.Passed,
		Confidence:         r.Confidence,
		VerifierConfidence: r.Confidence,
		WeightedConfidence: r.Confidence,
		PerLayer:           r.Results,
		FailedRuleIDs:      validation.FailedRuleIDs(r.Results),
		MandatoryFailed:    r.MandatoryFailed,
	}
}

// Verifier runs the checks. Safe for concurrent use.
type Verifier struct {
	config      Config
	consistency *consistency
	factual     *factual
	quality     *quality
	logger      *logging.Logger
	tracer      trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.logger = l.Named("verify") }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(v *Verifier) { v.tracer = t }
}

// New compiles the verifier rules from pack (nil uses the defaults).
func New(pack *rules.Pack, cfg Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}
	if pack == nil {
		pack = rules.Default()
	}
	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule pack: %w", err)
	}

	v := &Verifier{
		config:      cfg,
		consistency: &consistency{},
		factual:     &factual{},
		quality:     &quality{cfg: cfg},
		logger:      logging.NewNop(),
		tracer:      otel.Tracer("github.com/fyrsmithlabs/ultrathink/internal/verify"),
	}
	for _, p := range pack.Contradictions {
		v.consistency.pairs = append(v.consistency.pairs, phrasePair{
			id: p.ID, a: rules.MustCompile(p.A), b: rules.MustCompile(p.B),
		})
	}
	for _, c := range pack.Claims {
		v.factual.claims = append(v.factual.claims, claim{ClaimRule: c, re: rules.MustCompile(c.Pattern)})
	}
	for _, p := range pack.Placeholders {
		v.quality.placeholders = append(v.quality.placeholders, rules.MustCompile(p))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Mandatory reports whether a failed id fails the report.
func Mandatory(id validation.LayerID, complex bool) bool {
	switch id {
	case validation.V1, validation.V2, validation.V4:
		return true
	case validation.V3:
		return complex
	}
	return false
}

func (v *Verifier) checkFunc(id validation.LayerID) func(Input) Check {
	switch id {
	case validation.V1:
		return v.consistency.check
	case validation.V2:
		return v.factual.check
	case validation.V3:
		return completeness{}.check
	default:
		return v.quality.check
	}
}

var verifierIDs = []validation.LayerID{validation.V1, validation.V2, validation.V3, validation.V4}

// Run executes the verifiers in parallel on r.
func (v *Verifier) Run(ctx context.Context, r *workerpool.Reservation, in Input) Report {
	ctx, span := v.tracer.Start(ctx, "ultrathink.verify")
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	var handles []*workerpool.Handle[Check]
	for _, id := range verifierIDs {
		if in.Required != nil && !in.Required(id) {
			continue
		}
		fn := v.checkFunc(id)
		handles = append(handles, workerpool.Submit(ctx, r, string(id), func(context.Context) (Check, error) {
			return fn(in), nil
		}, v.config.Timeout))
	}

	outcomes := workerpool.AwaitAll(ctx, handles, deadlineOf(ctx))

	report := Report{Passed: true}
	var sum, weights float64
	for _, id := range verifierIDs {
		o, ok := outcomes[string(id)]
		if !ok {
			continue
		}
		c := o.Value
		if o.Err != nil {
			c = v.fromError(ctx, id, o.Err)
		} else {
			c.Passed = !c.hardFail && c.Confidence >= v.config.PassConfidence
		}

		report.Checks = append(report.Checks, c)
		report.Results = append(report.Results, toResult(c))
		if !c.Passed && Mandatory(id, in.Complex) {
			report.MandatoryFailed = append(report.MandatoryFailed, id)
			report.Passed = false
		}
		w := v.config.weight(id)
		sum += w * c.Confidence
		weights += w
	}
	report.Confidence = 100
	if weights > 0 {
		report.Confidence = sum / weights
	}

	span.SetAttributes(
		attribute.Bool("verify.passed", report.Passed),
		attribute.Float64("verify.confidence", report.Confidence),
	)
	if !report.Passed {
		spanErr = fmt.Errorf("mandatory verifiers failed: %v", report.MandatoryFailed)
	}
	v.logger.Debug(ctx, "verification finished",
		zap.Bool("passed", report.Passed),
		zap.Float64("confidence", report.Confidence))
	return report
}

func (v *Verifier) fromError(ctx context.Context, id validation.LayerID, err error) Check {
	msg := "verifier did not complete: " + err.Error()
	rule := string(id) + ".incomplete"
	var pe *workerpool.PanicError
	switch {
	case errors.As(err, &pe):
		msg, rule = "verifier failed internally", string(id)+".internal"
		v.logger.Error(ctx, "verifier panicked", zap.String("verifier", string(id)), zap.Any("panic", pe.Value))
	case errors.Is(err, context.DeadlineExceeded):
		msg, rule = "verifier timed out", string(id)+".timeout"
		v.logger.Warn(ctx, "verifier timed out", zap.String("verifier", string(id)))
	}
	return Check{ID: id, Message: msg, RuleIDs: []string{rule}, Details: map[string]any{"internal": true}}
}

func toResult(c Check) validation.Result {
	severity := int(math.Round((100 - c.Confidence) / 10))
	details := map[string]any{"confidence": c.Confidence, "methods_passed": c.MethodsPassed}
	for k, val := range c.Details {
		details[k] = val
	}
	if c.Passed {
		return validation.Pass(c.ID, severity, c.Message, details)
	}
	return validation.Fail(c.ID, severity, c.Message, details, c.RuleIDs...)
}

func deadlineOf(ctx context.Context) (d time.Time) {
	d, _ = ctx.Deadline()
	return d
}
