package main

import (
	"context"
	"errors"
	"fmt"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/complexity"
	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/events"
	"github.com/fyrsmithlabs/ultrathink/internal/guardrails"
	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/llm"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/metrics"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/phi"
	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/safetyapi"
	"github.com/fyrsmithlabs/ultrathink/internal/scoring"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
	"github.com/fyrsmithlabs/ultrathink/internal/sink"
	"github.com/fyrsmithlabs/ultrathink/internal/telemetry"
	"github.com/fyrsmithlabs/ultrathink/internal/verify"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

const tracerName = "github.com/fyrsmithlabs/ultrathink"

// newExecutor builds the action executor. Tests swap it for a stub.
var newExecutor = func(cfg config.LLMConfig, logger *logging.Logger) (orchestrator.ActionExecutor, error) {
	e, err := llm.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// depOptions select how a command wants its dependencies built.
type depOptions struct {
	// stderrLogs keeps stdout free for JSON-RPC or result output.
	stderrLogs bool
	registerer prometheus.Registerer
}

// dependencies is everything a command needs, in construction order.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	pool      *workerpool.Pool
	store     sink.Store
	nats      *natsserver.Server
	events    *events.Publisher
	secrets   *secrets.Detector
	orch      *orchestrator.Orchestrator
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// initDependencies wires the orchestrator and its surroundings from cfg.
// On error everything built so far is closed.
func initDependencies(ctx context.Context, cfg *config.Config, opts depOptions) (_ *dependencies, err error) {
	deps := &dependencies{cfg: cfg}
	defer func() {
		if err != nil {
			_ = deps.Close(context.Background())
		}
	}()

	if deps.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry)); err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.stderrLogs {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	if deps.logger, err = logging.NewLogger(logCfg, deps.telemetry.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := deps.logger
	tracer := deps.telemetry.Tracer(tracerName)

	reg := opts.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	deps.metrics = metrics.New(reg)

	pack, err := rules.Load(cfg.Rules.File)
	if err != nil {
		return nil, fmt.Errorf("loading rule pack: %w", err)
	}
	phiDetector, err := phi.New(phi.FromSettings(cfg.PHI))
	if err != nil {
		return nil, fmt.Errorf("building phi detector: %w", err)
	}
	if deps.secrets, err = secrets.New(); err != nil {
		return nil, fmt.Errorf("building secret detector: %w", err)
	}

	guardDeps := guardrails.Deps{
		PHI:     phiDetector,
		Rules:   pack,
		Secrets: deps.secrets,
		Logger:  logger,
		Tracer:  tracer,
	}
	if cfg.SafetyAPI.Enabled {
		client, err := safetyapi.NewHTTPClient(safetyapi.FromSettings(cfg.SafetyAPI),
			safetyapi.WithLogger(logger.Named("safetyapi")),
			safetyapi.WithObserver(deps.metrics.SafetyAPICall),
		)
		if err != nil {
			return nil, err
		}
		guardDeps.Classifier = client
		guardDeps.Shield = client
		guardDeps.Groundedness = client
	}
	guards, err := guardrails.New(guardDeps, guardrails.FromSettings(cfg.Orchestrator, cfg.SafetyAPI))
	if err != nil {
		return nil, err
	}

	verifier, err := verify.New(pack,
		verify.FromSettings(cfg.Orchestrator.VerifierWeights, cfg.Orchestrator.LayerTimeout.Duration()),
		verify.WithLogger(logger),
		verify.WithTracer(tracer),
	)
	if err != nil {
		return nil, err
	}

	if deps.pool, err = workerpool.New(cfg.Pool.Size); err != nil {
		return nil, err
	}
	scorer, err := scoring.New(scoring.FromSettings(cfg.Orchestrator.ScorerWeights))
	if err != nil {
		return nil, err
	}

	if deps.store, err = sink.New(cfg.Sink); err != nil {
		return nil, fmt.Errorf("opening %s sink: %w", cfg.Sink.Kind, err)
	}

	var progress orchestrator.ProgressFunc
	if cfg.Events.Enabled {
		evCfg := cfg.Events
		if evCfg.URL == "" {
			if deps.nats, err = events.StartEmbedded("127.0.0.1"); err != nil {
				return nil, err
			}
			evCfg.URL = deps.nats.ClientURL()
			logger.Info(ctx, "started embedded nats server", zap.String("url", evCfg.URL))
		}
		if deps.events, err = events.Connect(evCfg, logger); err != nil {
			return nil, err
		}
		progress = deps.events.Handler()
	}

	executor, err := newExecutor(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("building action executor: %w", err)
	}

	rt := orchestrator.Runtime{
		Pool:       deps.pool,
		Guardrails: guards,
		Classifier: complexity.New(complexity.FromSettings(cfg.Complexity, cfg.Pool.Size)),
		Scorer:     scorer,
		Sanitizer:  iterlog.NewRedactor(phiDetector, deps.secrets),
		Logger:     logger,
		Tracer:     tracer,
		Metrics:    deps.metrics,
		Progress:   progress,
	}
	if deps.store != nil {
		rt.Sink = deps.store
	}
	collab := orchestrator.Collaborators{
		Executor: executor,
		Verifier: orchestrator.NewVerifierHook(verifier),
	}
	if deps.orch, err = orchestrator.New(rt, collab, orchestrator.FromSettings(cfg.Orchestrator)); err != nil {
		return nil, err
	}

	logger.Info(ctx, "orchestrator ready",
		zap.Int("pool_size", cfg.Pool.Size),
		zap.Float64("min_confidence", cfg.Orchestrator.MinConfidence),
		zap.Int("max_iterations", cfg.Orchestrator.MaxIterations),
		zap.String("sink", cfg.Sink.Kind),
		zap.Bool("events", deps.events != nil),
		zap.Bool("safety_api", cfg.SafetyAPI.Enabled),
	)
	return deps, nil
}

// Close stops new work and releases dependencies.
func (d *dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.pool != nil {
		d.pool.Close()
	}
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing events: %w", err))
		}
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink: %w", err))
		}
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
