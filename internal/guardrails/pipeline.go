// Package guardrails runs the input and output validation layers (L1-L7)
// on a request's worker reservation and folds their results into one
// aggregate.
//
// Input mode checks the prompt (L1 prompt shield, L2 content safety, L3
// PHI). Output mode checks a candidate response (L4 terminology, L5 content
// safety, L6 groundedness, L7 compliance). Layers run in parallel; once a
// blocking layer fails, layers still queued are dropped and the ones already
// running are collected.
package guardrails

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/phi"
	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/safety"
	"github.com/fyrsmithlabs/ultrathink/internal/safetyapi"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
	"github.com/fyrsmithlabs/ultrathink/internal/telemetry"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

// Mode selects the layer set.
type Mode string

const (
	ModeInput  Mode = "input"
	ModeOutput Mode = "output"
)

// Layers returns the layer ids a mode runs, in order.
func (m Mode) Layers() []validation.LayerID {
	if m == ModeInput {
		return []validation.LayerID{validation.L1, validation.L2, validation.L3}
	}
	return []validation.LayerID{validation.L4, validation.L5, validation.L6, validation.L7}
}

// Deps are the detectors and services the layers use. Nil detectors are
// built from defaults; a nil Classifier or Shield leaves the pattern engine
// alone on L1, L2 and L5; a nil Groundedness checker falls back to lexical
// overlap.
type Deps struct {
	PHI          *phi.Detector
	Safety       *safety.Engine
	Rules        *rules.Pack
	Secrets      *secrets.Detector
	Classifier   safetyapi.ContentClassifier
	Shield       safetyapi.PromptShield
	Groundedness safetyapi.GroundednessChecker
	Logger       *logging.Logger
	Tracer       trace.Tracer
}

// Pipeline validates payloads. Safe for concurrent use.
type Pipeline struct {
	config Config
	layers map[validation.LayerID]Layer
	logger *logging.Logger
	tracer trace.Tracer
}

// New assembles the seven layers.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrails config: %w", err)
	}

	pack := deps.Rules
	if pack == nil {
		pack = rules.Default()
	}
	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule pack: %w", err)
	}

	engine := deps.Safety
	if engine == nil {
		var err error
		if engine, err = safety.New(pack.Safety); err != nil {
			return nil, fmt.Errorf("building safety engine: %w", err)
		}
	}

	detector := deps.PHI
	if detector == nil {
		var err error
		if detector, err = phi.New(phi.DefaultConfig()); err != nil {
			return nil, err
		}
	}

	secretDetector := deps.Secrets
	if secretDetector == nil {
		var err error
		if secretDetector, err = secrets.New(); err != nil {
			return nil, fmt.Errorf("building secret detector: %w", err)
		}
	}

	grounded := deps.Groundedness
	if grounded == nil {
		grounded = safetyapi.LexicalGroundedness{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/fyrsmithlabs/ultrathink/internal/guardrails")
	}

	disclaimers := make(map[string]compiledDisclaimer, len(pack.Compliance.Disclaimers))
	for domain, d := range pack.Compliance.Disclaimers {
		cd := compiledDisclaimer{Disclaimer: d}
		for _, p := range d.Patterns {
			cd.patterns = append(cd.patterns, rules.MustCompile(p))
		}
		disclaimers[domain] = cd
	}

	layers := []Layer{
		&promptShield{engine: engine, shield: deps.Shield, degradedMode: cfg.DegradedMode},
		&contentSafety{mode: safety.ModeInputContent, engine: engine, classifier: deps.Classifier,
			threshold: cfg.CategoryThreshold, degradedMode: cfg.DegradedMode},
		&phiLayer{detector: detector},
		&terminology{terms: compileTerms(pack.Terminology)},
		&contentSafety{mode: safety.ModeOutputContent, engine: engine, classifier: deps.Classifier,
			threshold: cfg.CategoryThreshold, degradedMode: cfg.DegradedMode},
		&groundedness{checker: grounded, maxUngrounded: cfg.MaxUngroundedFraction},
		&compliance{
			prohibited:  compileTerms(pack.Compliance.Prohibited),
			disclaimers: disclaimers,
			secrets:     secretDetector,
		},
	}

	p := &Pipeline{
		config: cfg,
		layers: make(map[validation.LayerID]Layer, len(layers)),
		logger: logger.Named("guardrails"),
		tracer: tracer,
	}
	for _, l := range layers {
		p.layers[l.ID()] = l
	}
	return p, nil
}

// WithLayer returns a copy of p with l replacing the layer of the same id.
func (p *Pipeline) WithLayer(l Layer) *Pipeline {
	cp := *p
	cp.layers = make(map[validation.LayerID]Layer, len(p.layers))
	for id, existing := range p.layers {
		cp.layers[id] = existing
	}
	cp.layers[l.ID()] = l
	return &cp
}

// Validate runs the layers of mode that required admits (nil admits all) on
// r and aggregates their results. Layers cut short by a blocking failure
// are absent from PerLayer.
func (p *Pipeline) Validate(ctx context.Context, r *workerpool.Reservation, payload Payload, mode Mode, required func(validation.LayerID) bool) validation.Aggregate {
	ctx, span := p.tracer.Start(ctx, "ultrathink.guardrails."+string(mode))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	var handles []*workerpool.Handle[validation.Result]
	for _, id := range mode.Layers() {
		if required != nil && !required(id) {
			continue
		}
		l := p.layers[id]
		handles = append(handles, workerpool.Submit(ctx, r, string(id), p.task(l, payload), p.config.LayerTimeout))
	}

	results := p.collect(ctx, r, handles)
	agg := p.aggregate(results)

	span.SetAttributes(
		attribute.Bool("guardrails.passed", agg.Passed),
		attribute.Float64("guardrails.confidence", agg.GuardrailConfidence),
		attribute.Int("guardrails.layers", len(agg.PerLayer)),
	)
	if !agg.Passed {
		spanErr = fmt.Errorf("mandatory layers failed: %v", agg.MandatoryFailed)
	}
	return agg
}

func (p *Pipeline) task(l Layer, payload Payload) workerpool.Task[validation.Result] {
	return func(ctx context.Context) (validation.Result, error) {
		res := l.Check(ctx, payload)
		if err := ctx.Err(); err != nil {
			return res, context.Cause(ctx)
		}
		return res, nil
	}
}

// collect gathers results in completion order, dropping queued layers on
// the first blocking failure.
func (p *Pipeline) collect(ctx context.Context, r *workerpool.Reservation, handles []*workerpool.Handle[validation.Result]) []validation.Result {
	done := make(chan int, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-h.Done()
			done <- i
		}()
	}
	defer wg.Wait()

	var (
		results      []validation.Result
		shortCircuit bool
	)
	for range handles {
		i := <-done
		h := handles[i]
		id := validation.LayerID(h.ID)
		res, err := h.Result()
		if err != nil {
			var ok bool
			if res, ok = p.fromError(ctx, id, err); !ok {
				continue
			}
		}

		p.logger.Debug(ctx, "layer finished",
			zap.String("layer", string(id)),
			zap.Bool("passed", res.Passed),
			zap.Int("severity", res.Severity))

		results = append(results, res)
		if !res.Passed && p.layers[id].Blocking() && !shortCircuit {
			shortCircuit = true
			p.logger.Info(ctx, "blocking layer failed, cancelling queued layers",
				zap.String("layer", string(id)),
				zap.Strings("rule_ids", res.RuleIDs))
			r.CancelPending()
		}
	}
	return results
}

// fromError maps a task error to a result. Layers cancelled by a short
// circuit report nothing.
func (p *Pipeline) fromError(ctx context.Context, id validation.LayerID, err error) (validation.Result, bool) {
	var pe *workerpool.PanicError
	switch {
	case errors.Is(err, workerpool.ErrCancelled):
		return validation.Result{}, false
	case errors.As(err, &pe):
		p.logger.Error(ctx, "layer panicked",
			zap.String("layer", string(id)),
			zap.Any("panic", pe.Value),
			zap.ByteString("stack", pe.Stack))
		return validation.Fail(id, validation.MaxSeverity, "layer failed internally",
			map[string]any{"internal": true}, string(id)+".internal"), true
	case errors.Is(err, context.DeadlineExceeded):
		p.logger.Warn(ctx, "layer timed out", zap.String("layer", string(id)))
		return validation.Fail(id, validation.MaxSeverity, "layer timed out",
			map[string]any{"timeout": p.config.LayerTimeout.String()}, string(id)+".timeout"), true
	default:
		p.logger.Warn(ctx, "layer did not complete", zap.String("layer", string(id)), zap.Error(err))
		return validation.Fail(id, validation.MaxSeverity, "layer did not complete: "+err.Error(),
			map[string]any{"internal": true}, string(id)+".incomplete"), true
	}
}

func (p *Pipeline) aggregate(results []validation.Result) validation.Aggregate {
	validation.SortResults(results)

	agg := validation.Aggregate{
		PerLayer:            results,
		GuardrailConfidence: 100,
		WeightedConfidence:  100,
	}

	var sum, weights float64
	for _, r := range results {
		c := r.Confidence()
		if p.layers[r.Layer].Blocking() {
			agg.GuardrailConfidence = min(agg.GuardrailConfidence, c)
			if !r.Passed {
				agg.MandatoryFailed = append(agg.MandatoryFailed, r.Layer)
			}
		}
		w := p.config.weight(r.Layer)
		sum += w * c
		weights += w
	}
	if weights > 0 {
		agg.WeightedConfidence = sum / weights
	}

	agg.Passed = len(agg.MandatoryFailed) == 0
	agg.Confidence = agg.GuardrailConfidence
	agg.FailedRuleIDs = validation.FailedRuleIDs(results)
	return agg
}
