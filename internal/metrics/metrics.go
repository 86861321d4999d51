// Package metrics exports orchestrator measurements as Prometheus
// collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

const namespace = "ultrathink"

// Outcome label values for requests.
const (
	OutcomeSuccess = "success"
)

// Metrics implements orchestrator.Recorder.
type Metrics struct {
	// RequestsTotal counts finished requests.
	// Labels: outcome (success or an error category)
	RequestsTotal *prometheus.CounterVec

	// Iterations observes iterations performed per request.
	Iterations prometheus.Histogram

	// Confidence observes final confidence per request.
	Confidence prometheus.Histogram

	// RequestDuration observes wall time per request in seconds.
	RequestDuration prometheus.Histogram

	// LayerResultsTotal counts layer and verifier results.
	// Labels: layer (L1-L7, V1-V4), result (pass, fail, skipped)
	LayerResultsTotal *prometheus.CounterVec

	// StageSeconds observes stage wall time in seconds.
	// Labels: stage (context_gather, action_execute, verify)
	StageSeconds *prometheus.HistogramVec

	// PoolFreeSlots is the number of free worker slots.
	PoolFreeSlots prometheus.Gauge

	// ExtensionsTotal counts adaptive iteration-limit extensions.
	ExtensionsTotal prometheus.Counter

	// TransientRetriesTotal counts retried stage failures.
	TransientRetriesTotal prometheus.Counter

	// SafetyAPICallsTotal counts remote safety service calls.
	// Labels: op, outcome
	SafetyAPICallsTotal *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total processed requests by outcome",
		}, []string{"outcome"}),
		Iterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Iterations performed per request",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 12, 15, 20, 25, 50},
		}),
		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Final confidence per request (0-100)",
			Buckets:   []float64{10, 25, 50, 70, 80, 90, 94, 96, 98, 100},
		}),
		RequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request wall time in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LayerResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "layer_results_total",
			Help:      "Guardrail layer and verifier results",
		}, []string{"layer", "result"}),
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "stage_duration_seconds",
			Help:      "Duration of one loop stage in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		PoolFreeSlots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "free_slots",
			Help:      "Free worker pool slots",
		}),
		ExtensionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "extensions_total",
			Help:      "Adaptive iteration limit extensions",
		}),
		TransientRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "transient_retries_total",
			Help:      "Stage attempts retried after a transient error",
		}),
		SafetyAPICallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety_api",
			Name:      "calls_total",
			Help:      "Remote safety service calls by operation and outcome",
		}, []string{"op", "outcome"}),
	}
}

var _ orchestrator.Recorder = (*Metrics)(nil)

// RequestFinished records the outcome of one request.
func (m *Metrics) RequestFinished(res *orchestrator.Result) {
	outcome := OutcomeSuccess
	if !res.Success {
		outcome = string(res.Error)
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.Iterations.Observe(float64(res.IterationsPerformed))
	m.Confidence.Observe(res.Confidence)
	m.RequestDuration.Observe(res.Duration.Seconds())
}

// LayerResult records one layer or verifier result.
func (m *Metrics) LayerResult(r validation.Result) {
	result := "fail"
	switch {
	case r.Skipped:
		result = "skipped"
	case r.Passed:
		result = "pass"
	}
	m.LayerResultsTotal.WithLabelValues(string(r.Layer), result).Inc()
}

func (m *Metrics) StageDuration(stage iterlog.Stage, d time.Duration) {
	m.StageSeconds.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) Extended() { m.ExtensionsTotal.Inc() }

func (m *Metrics) TransientRetry() { m.TransientRetriesTotal.Inc() }

func (m *Metrics) PoolFree(n int) { m.PoolFreeSlots.Set(float64(n)) }

// SafetyAPICall matches the safety client observer signature.
func (m *Metrics) SafetyAPICall(op, outcome string) {
	m.SafetyAPICallsTotal.WithLabelValues(op, outcome).Inc()
}
