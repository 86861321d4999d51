package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/complexity"
	"github.com/fyrsmithlabs/ultrathink/internal/fingerprint"
	"github.com/fyrsmithlabs/ultrathink/internal/guardrails"
	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/phi"
	"github.com/fyrsmithlabs/ultrathink/internal/scoring"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
	"github.com/fyrsmithlabs/ultrathink/internal/telemetry"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
	"github.com/fyrsmithlabs/ultrathink/internal/verify"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

// Runtime is the shared machinery of an Orchestrator. Nil fields get
// defaults, except Sink and Progress which stay off. The default Sanitizer
// redacts credentials and PHI.
type Runtime struct {
	Pool       *workerpool.Pool
	Guardrails *guardrails.Pipeline
	Classifier *complexity.Classifier
	Scorer     *scoring.Scorer
	Sanitizer  iterlog.Sanitizer
	Logger     *logging.Logger
	Tracer     trace.Tracer
	Metrics    Recorder
	Sink       Sink
	Progress   ProgressFunc
}

// Orchestrator runs requests through the loop. Safe for concurrent use;
// each request owns its loop state.
type Orchestrator struct {
	rt     Runtime
	collab Collaborators
	config Config
	stats  *statsAccumulator
}

// New validates cfg and fills Runtime defaults.
func New(rt Runtime, collab Collaborators, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collab.Executor == nil {
		return nil, errors.New("orchestrator: an action executor is required")
	}
	if collab.Gatherer == nil {
		collab.Gatherer = SourceGatherer{}
	}
	if rt.Logger == nil {
		rt.Logger = logging.NewNop()
	}

	var err error
	if collab.Verifier == nil {
		v, err := verify.New(nil, verify.DefaultConfig(), verify.WithLogger(rt.Logger))
		if err != nil {
			return nil, fmt.Errorf("building verifier: %w", err)
		}
		collab.Verifier = NewVerifierHook(v)
	}
	if rt.Sanitizer == nil {
		det, err := secrets.New()
		if err != nil {
			return nil, fmt.Errorf("building secrets detector: %w", err)
		}
		rt.Sanitizer = iterlog.NewRedactor(phi.MustNew(phi.DefaultConfig()), det)
	}
	if rt.Pool == nil {
		if rt.Pool, err = workerpool.New(workerpool.DefaultSize); err != nil {
			return nil, err
		}
	}
	if rt.Guardrails == nil {
		if rt.Guardrails, err = guardrails.New(guardrails.Deps{Logger: rt.Logger}, guardrails.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("building guardrails: %w", err)
		}
	}
	if rt.Classifier == nil {
		rt.Classifier = complexity.New(complexity.DefaultConfig())
	}
	if rt.Scorer == nil {
		if rt.Scorer, err = scoring.New(scoring.DefaultWeights()); err != nil {
			return nil, err
		}
	}
	if rt.Tracer == nil {
		rt.Tracer = otel.Tracer("github.com/fyrsmithlabs/ultrathink/internal/orchestrator")
	}
	if rt.Metrics == nil {
		rt.Metrics = nopRecorder{}
	}

	return &Orchestrator{
		rt:     rt,
		collab: collab,
		config: cfg,
		stats:  newStatsAccumulator(),
	}, nil
}

// Config returns the process-level loop configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Stats returns the running totals over every processed request.
func (o *Orchestrator) Stats() Stats {
	return o.stats.snapshot()
}

// loopState belongs to exactly one request.
type loopState struct {
	cfg         Config
	requestID   string
	fingerprint fingerprint.Fingerprint
	cls         complexity.Classification
	log         *iterlog.Log
	reservation *workerpool.Reservation
	started     time.Time

	effectiveMax int
	hardCeiling  int

	consecutiveTransientErrors  int
	consecutiveFailedIterations int

	input       validation.Aggregate
	last        validation.Aggregate
	lastOutput  string
	confidence  float64
	feedback    []string
	lastStarted time.Time
}

// Process runs req to completion. The error is non-nil only for invalid
// options, in which case nothing ran.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	cfg, err := o.config.Resolve(req.Options)
	if err != nil {
		return nil, err
	}

	st := &loopState{
		cfg:         cfg,
		requestID:   uuid.NewString(),
		fingerprint: fingerprint.Compute(req.Prompt, cfg.fingerprintView()),
		cls:         o.rt.Classifier.Classify(req.Prompt),
		started:     time.Now(),
	}
	st.log = iterlog.New(st.requestID, st.fingerprint.String(), o.rt.Sanitizer, cfg.EnableProfiling)
	st.log.SetPrompt(req.Prompt)

	ctx = logging.WithRequestID(ctx, st.requestID)
	ctx = logging.WithFingerprint(ctx, st.fingerprint.Short())

	ctx, span := o.rt.Tracer.Start(ctx, "ultrathink.process", trace.WithAttributes(
		attribute.String("request.id", st.requestID),
		attribute.String("request.fingerprint", st.fingerprint.Short()),
		attribute.String("request.complexity", string(st.cls.Class)),
		attribute.Int("request.worker_budget", st.cls.WorkerBudget),
	))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	o.rt.Logger.Info(ctx, "request started",
		zap.String("complexity", string(st.cls.Class)),
		zap.Int("worker_budget", st.cls.WorkerBudget),
		zap.Float64("min_confidence", cfg.MinConfidence),
		zap.Int("max_iterations", cfg.MaxIterations))

	res := o.run(ctx, st, req.Prompt)
	res.Duration = time.Since(st.started)

	span.SetAttributes(
		attribute.Bool("result.success", res.Success),
		attribute.Float64("result.confidence", res.Confidence),
		attribute.Int("result.iterations", res.IterationsPerformed),
	)
	if !res.Success {
		spanErr = fmt.Errorf("%s: %s", res.Error, res.ErrorDetail)
	}
	o.finish(ctx, st, res)
	return res, nil
}

// run executes the state machine. Panics inside the loop end the request
// with ErrInternal.
func (o *Orchestrator) run(ctx context.Context, st *loopState, prompt string) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			o.rt.Logger.Error(ctx, "orchestrator panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = o.result(st, ErrInternal, fmt.Sprintf("panic: %v", p))
		}
	}()

	r, err := o.rt.Pool.AcquireWait(ctx, st.cls.WorkerBudget)
	if err != nil {
		if ctx.Err() != nil {
			return o.result(st, ErrDeadlineExceeded, "deadline passed while waiting for worker slots")
		}
		return o.result(st, ErrInternal, fmt.Sprintf("acquiring worker slots: %v", err))
	}
	defer func() {
		r.Release()
		o.rt.Metrics.PoolFree(o.rt.Pool.Free())
	}()
	st.reservation = r
	o.rt.Metrics.PoolFree(o.rt.Pool.Free())

	st.effectiveMax = st.cfg.MaxIterations
	st.hardCeiling = st.cfg.HardCeiling()
	if strings.TrimSpace(prompt) == "" {
		st.effectiveMax, st.hardCeiling = 1, 1
	}
	o.emit(st, Progress{Kind: EventStarted})

	st.input = o.rt.Guardrails.Validate(ctx, r, guardrails.Payload{
		Prompt:   prompt,
		Domain:   st.cfg.Domain,
		Audience: st.cfg.TargetAudience,
	}, guardrails.ModeInput, st.cls.Requires)
	o.recordLayers(st.input)
	if ctx.Err() != nil {
		return o.result(st, ErrDeadlineExceeded, "deadline passed during input validation")
	}
	if !st.input.Passed {
		st.last = st.input
		st.confidence = o.rt.Scorer.Score(scoring.Inputs{
			G: st.input.GuardrailConfidence,
			P: st.cls.PromptConfidence,
			E: 1,
		})
		st.last.Confidence = st.confidence
		return o.result(st, ErrMandatoryLayerFailed,
			fmt.Sprintf("input layers failed: %v (rules %s)", st.input.MandatoryFailed, strings.Join(st.input.FailedRuleIDs, ",")))
	}

	for k := 1; ; k++ {
		if ctx.Err() != nil {
			return o.result(st, ErrDeadlineExceeded, fmt.Sprintf("deadline passed before iteration %d", k))
		}

		out := o.iterate(ctx, st, prompt, k)
		switch {
		case out.deadline:
			return o.result(st, ErrDeadlineExceeded, fmt.Sprintf("deadline passed during iteration %d", k))
		case out.err != nil:
			st.consecutiveFailedIterations++
			if st.consecutiveFailedIterations >= st.cfg.MaxConsecutiveFailures {
				return o.result(st, ErrTooManyTransient,
					fmt.Sprintf("%d consecutive iterations failed, last: %v", st.consecutiveFailedIterations, out.err))
			}
		case out.passed:
			return o.result(st, "", "")
		default:
			st.consecutiveFailedIterations = 0
		}

		if k < st.effectiveMax {
			continue
		}
		if st.cfg.EnableAdaptiveLimits && st.effectiveMax < st.hardCeiling && IsMakingProgress(st.log.Records()) {
			prev := st.effectiveMax
			st.effectiveMax = min(st.effectiveMax+st.cfg.ExtensionStep, st.hardCeiling)
			o.rt.Metrics.Extended()
			o.rt.Logger.Info(ctx, "iteration budget extended",
				zap.Int("from", prev),
				zap.Int("to", st.effectiveMax),
				zap.Int("hard_ceiling", st.hardCeiling))
			o.emit(st, Progress{Kind: EventExtended, Iteration: k})
			continue
		}
		return o.result(st, ErrMaxIterations,
			fmt.Sprintf("confidence %.1f below %.1f after %d iterations", st.confidence, st.cfg.MinConfidence, k))
	}
}

type iterationOutcome struct {
	passed   bool
	deadline bool
	err      error
}

// stageRun is what one attempt at the stages produced.
type stageRun struct {
	gathered Context
	action   Action
	agg      validation.Aggregate
	timings  map[iterlog.Stage]time.Duration
}

// iterate runs iteration k, retrying transient stage failures on the same
// index, and appends its record.
func (o *Orchestrator) iterate(ctx context.Context, st *loopState, prompt string, k int) iterationOutcome {
	ctx = logging.WithIteration(ctx, k)
	ctx, span := o.rt.Tracer.Start(ctx, "ultrathink.iteration", trace.WithAttributes(attribute.Int("iteration", k)))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	started := time.Now()
	if !started.After(st.lastStarted) {
		started = st.lastStarted.Add(time.Nanosecond)
	}
	st.lastStarted = started

	task := Task{
		RequestID:      st.requestID,
		Prompt:         prompt,
		Iteration:      k,
		Domain:         st.cfg.Domain,
		Audience:       st.cfg.TargetAudience,
		Sources:        st.cfg.SourceDocuments,
		Feedback:       st.feedback,
		Classification: st.cls,
	}

	st.consecutiveTransientErrors = 0
	retries := 0
	var (
		run     stageRun
		lastErr error
	)
	attempt := func() (stageRun, error) {
		ictx, cancel := context.WithTimeout(ctx, st.cfg.IterationTimeout)
		defer cancel()
		run, lastErr = o.stages(ictx, st, task)
		if lastErr == nil {
			return run, nil
		}
		if ctx.Err() != nil || Classify(lastErr) == Permanent {
			return run, backoff.Permanent(lastErr)
		}
		return run, lastErr
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(o.retryPolicy(st.cfg.RetryBackoff)),
		backoff.WithMaxTries(uint(st.cfg.MaxTransientRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			retries++
			st.consecutiveTransientErrors++
			o.rt.Metrics.TransientRetry()
			o.rt.Logger.Warn(ctx, "transient stage failure, retrying",
				zap.Error(err),
				zap.Int("retry", retries),
				zap.Duration("backoff", wait))
		}))

	if ctx.Err() != nil {
		spanErr = ctx.Err()
		return iterationOutcome{deadline: true}
	}

	rec := iterlog.Record{
		Index:            k,
		StartedAt:        started,
		Duration:         time.Since(started),
		SanitizedContext: run.gathered.Text,
		SanitizedOutput:  run.action.Output,
		StageTimings:     run.timings,
		Retries:          retries,
	}
	for stage, d := range run.timings {
		o.rt.Metrics.StageDuration(stage, d)
	}

	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		spanErr = err
		kind := Classify(err)
		rec.Error = err.Error()
		rec.ErrorKind = string(kind)
		rec.Verification = run.agg
		o.appendRecord(ctx, st, rec)

		st.feedback = []string{"previous attempt failed: " + err.Error()}
		o.rt.Logger.Warn(ctx, "iteration failed",
			zap.Error(err),
			zap.String("error_kind", string(kind)),
			zap.Int("retries", retries))
		o.emit(st, Progress{Kind: EventIteration, Iteration: k})
		return iterationOutcome{err: err}
	}
	st.consecutiveTransientErrors = 0

	agg := run.agg
	st.confidence = o.rt.Scorer.Score(scoring.Inputs{
		G: agg.GuardrailConfidence,
		V: agg.VerifierConfidence,
		P: st.cls.PromptConfidence,
		E: scoring.Efficiency(k, st.hardCeiling, time.Since(st.started), st.cfg.Deadline),
	})
	agg.Confidence = st.confidence
	agg.Passed = len(agg.MandatoryFailed) == 0 && st.confidence >= st.cfg.MinConfidence

	rec.Succeeded = true
	rec.Verification = agg
	rec.Confidence = st.confidence
	o.appendRecord(ctx, st, rec)
	o.recordLayers(agg)

	st.last = agg
	st.lastOutput = run.action.Output
	st.feedback = feedback(agg)

	span.SetAttributes(
		attribute.Float64("iteration.confidence", st.confidence),
		attribute.Bool("iteration.passed", agg.Passed),
		attribute.Int("iteration.failed_rules", len(agg.FailedRuleIDs)),
	)
	o.rt.Logger.Info(ctx, "iteration scored",
		zap.Float64("confidence", st.confidence),
		zap.Bool("passed", agg.Passed),
		zap.Strings("failed_rule_ids", agg.FailedRuleIDs),
		zap.Int("retries", retries))
	o.emit(st, Progress{Kind: EventIteration, Iteration: k})
	return iterationOutcome{passed: agg.Passed}
}

// stages runs gather, execute and verify once. Gather and execute run as
// pool tasks; verify runs inline because it submits its own tasks.
func (o *Orchestrator) stages(ctx context.Context, st *loopState, task Task) (stageRun, error) {
	run := stageRun{timings: make(map[iterlog.Stage]time.Duration, len(iterlog.Stages))}
	r := st.reservation

	var err error
	run.gathered, err = runStage(ctx, r, iterlog.StageContextGather, run.timings, func(ctx context.Context) (Context, error) {
		return o.collab.Gatherer.Gather(ctx, task)
	})
	if err != nil {
		return run, err
	}
	if len(run.gathered.Sources) == 0 {
		run.gathered.Sources = task.Sources
	}

	run.action, err = runStage(ctx, r, iterlog.StageActionExecute, run.timings, func(ctx context.Context) (Action, error) {
		return o.collab.Executor.Execute(ctx, task, run.gathered)
	})
	if err != nil {
		return run, err
	}

	start := time.Now()
	run.agg, err = o.verify(ctx, r, task, run.gathered, run.action)
	run.timings[iterlog.StageVerify] = time.Since(start)
	if err != nil {
		return run, fmt.Errorf("%s: %w", iterlog.StageVerify, err)
	}
	return run, nil
}

func runStage[T any](ctx context.Context, r *workerpool.Reservation, stage iterlog.Stage, timings map[iterlog.Stage]time.Duration, fn workerpool.Task[T]) (T, error) {
	start := time.Now()
	v, err := workerpool.Submit(ctx, r, string(stage), fn, 0).Result()
	timings[stage] = time.Since(start)
	if err != nil {
		return v, fmt.Errorf("%s: %w", stage, err)
	}
	return v, nil
}

// verify merges the output guardrails with the verifier hook.
func (o *Orchestrator) verify(ctx context.Context, r *workerpool.Reservation, task Task, gathered Context, action Action) (validation.Aggregate, error) {
	guard := o.rt.Guardrails.Validate(ctx, r, guardrails.Payload{
		Prompt:   task.Prompt,
		Output:   action.Output,
		Sources:  gathered.Sources,
		Domain:   task.Domain,
		Audience: task.Audience,
	}, guardrails.ModeOutput, task.Classification.Requires)
	if ctx.Err() != nil {
		return guard, context.Cause(ctx)
	}

	ver, err := o.collab.Verifier.Verify(ctx, r, VerifyInput{Task: task, Context: gathered, Action: action})
	if err != nil {
		return guard, err
	}
	if ctx.Err() != nil {
		return guard, context.Cause(ctx)
	}

	agg := validation.Merge(guard, ver)
	agg.GuardrailConfidence = guard.GuardrailConfidence
	agg.VerifierConfidence = ver.VerifierConfidence
	agg.WeightedConfidence = (guard.WeightedConfidence + ver.WeightedConfidence) / 2
	return agg, nil
}

func (o *Orchestrator) retryPolicy(cfg Backoff) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Base
	b.MaxInterval = cfg.Cap
	b.RandomizationFactor = cfg.Jitter
	return b
}

// feedback lists the messages of failed results for the next iteration.
func feedback(agg validation.Aggregate) []string {
	var out []string
	for _, r := range agg.PerLayer {
		if !r.Passed {
			out = append(out, fmt.Sprintf("%s: %s", r.Layer, r.Message))
		}
	}
	return out
}

// appendRecord adds rec to the log. An ordering violation is a bug in the loop.
func (o *Orchestrator) appendRecord(ctx context.Context, st *loopState, rec iterlog.Record) {
	if err := st.log.Append(rec); err != nil {
		o.rt.Logger.Error(ctx, "iteration record rejected", zap.Error(err))
		panic(err)
	}
}

func (o *Orchestrator) recordLayers(agg validation.Aggregate) {
	for _, r := range agg.PerLayer {
		o.rt.Metrics.LayerResult(r)
	}
}

// result builds the Result for the current state. An empty category means
// success.
func (o *Orchestrator) result(st *loopState, category ErrorCategory, detail string) *Result {
	return &Result{
		Success:             category == "",
		Output:              st.lastOutput,
		Confidence:          st.confidence,
		IterationsPerformed: st.log.Len(),
		IterationLog:        st.log,
		FinalAggregate:      st.last,
		InputValidation:     st.input,
		Error:               category,
		ErrorDetail:         detail,
		RequestID:           st.requestID,
		Fingerprint:         st.fingerprint.String(),
		Complexity:          st.cls,
		EffectiveMax:        st.effectiveMax,
	}
}

// finish records the result in stats, metrics, the sink and progress.
func (o *Orchestrator) finish(ctx context.Context, st *loopState, res *Result) {
	o.stats.add(res)
	o.rt.Metrics.RequestFinished(res)

	fields := []zap.Field{
		zap.Bool("success", res.Success),
		zap.Float64("confidence", res.Confidence),
		zap.Int("iterations", res.IterationsPerformed),
		zap.Duration("duration", res.Duration),
	}
	if res.Success {
		o.rt.Logger.Info(ctx, "request completed", fields...)
	} else {
		o.rt.Logger.Warn(ctx, "request failed", append(fields,
			zap.String("error", string(res.Error)),
			zap.String("error_detail", res.ErrorDetail))...)
	}

	if o.rt.Sink != nil {
		key := fmt.Sprintf("%s-%d", res.Fingerprint, time.Now().UnixNano())
		// the request deadline may have passed; persistence gets its own
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := o.rt.Sink.Write(wctx, key, res.Document()); err != nil {
			o.rt.Logger.Error(ctx, "writing request log failed", zap.String("key", key), zap.Error(err))
		}
		cancel()
	}

	o.emit(st, Progress{
		Kind:       EventCompleted,
		Iteration:  res.IterationsPerformed,
		Confidence: res.Confidence,
		Success:    res.Success,
		Error:      res.Error,
	})
}

func (o *Orchestrator) emit(st *loopState, p Progress) {
	if o.rt.Progress == nil {
		return
	}
	p.RequestID = st.requestID
	p.Fingerprint = st.fingerprint.String()
	p.EffectiveMax = st.effectiveMax
	p.Elapsed = time.Since(st.started)
	if p.Kind == EventIteration {
		p.Confidence = st.confidence
	}
	o.rt.Progress(p)
}
