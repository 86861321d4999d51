package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

const meterName = "github.com/fyrsmithlabs/ultrathink/internal/mcp"

const outcomeSuccess = "success"

// toolMetrics records MCP tool calls. The outcome label is "success", an
// orchestrator error category for a finished but failed request, or a
// failure reason when the tool itself errored.
type toolMetrics struct {
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
	confidence metric.Float64Histogram
}

// newToolMetrics builds the instruments on meter. If any instrument is
// rejected, metrics go to a no-op meter and the failure is logged once.
func newToolMetrics(meter metric.Meter, logger *logging.Logger) *toolMetrics {
	m, err := buildToolMetrics(meter)
	if err != nil {
		logger.Warn(context.Background(), "mcp tool metrics disabled", zap.Error(err))
		m, _ = buildToolMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildToolMetrics(meter metric.Meter) (*toolMetrics, error) {
	var m toolMetrics
	var errs [4]error
	m.calls, errs[0] = meter.Int64Counter("ultrathink.mcp.tool_calls",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	m.latency, errs[1] = meter.Float64Histogram("ultrathink.mcp.tool_latency",
		metric.WithDescription("Wall time of an MCP tool call, every refinement iteration included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300))
	m.inFlight, errs[2] = meter.Int64UpDownCounter("ultrathink.mcp.process_in_flight",
		metric.WithDescription("ultrathink_process calls currently running"),
		metric.WithUnit("{call}"))
	m.confidence, errs[3] = meter.Float64Histogram("ultrathink.mcp.process_confidence",
		metric.WithDescription("Final confidence (0-100) returned by ultrathink_process"),
		metric.WithExplicitBucketBoundaries(50, 70, 80, 90, 94, 96, 98, 100))
	return &m, errors.Join(errs[:]...)
}

// processStarted marks one ultrathink_process call in flight. The returned
// func records how it ended.
func (m *toolMetrics) processStarted(ctx context.Context) func(res *orchestrator.Result, err error) {
	start := time.Now()
	m.inFlight.Add(ctx, 1)
	return func(res *orchestrator.Result, err error) {
		m.inFlight.Add(ctx, -1)
		outcome := outcomeOf(res, err)
		m.record(ctx, ToolProcess, outcome, time.Since(start))
		if err == nil && res != nil {
			m.confidence.Record(ctx, res.Confidence, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
}

func (m *toolMetrics) record(ctx context.Context, tool, outcome string, d time.Duration) {
	m.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.String("outcome", outcome)))
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

func outcomeOf(res *orchestrator.Result, err error) string {
	switch {
	case err != nil:
		return failureReason(err)
	case res != nil && !res.Success:
		return string(res.Error)
	default:
		return outcomeSuccess
	}
}

// failureReason maps a tool error to a low-cardinality label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidOptions):
		return "invalid_options"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
