package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Span names recorded by the orchestrator for one request.
const (
	SpanProcess   = "ultrathink.process"
	SpanIteration = "ultrathink.iteration"
)

// TestTelemetry is a Telemetry whose providers record into memory, so a
// test can inspect the spans a request produced.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *MemoryReader
}

// NewTestTelemetry returns an enabled Telemetry backed by in-memory
// recorders.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	reader := &MemoryReader{reader: sdkmetric.NewManualReader()}

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(rec)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader.reader)),
		},
		SpanRecorder: rec,
		MetricReader: reader,
	}
}

// Spans returns every ended span in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpansNamed returns the ended spans called name.
func (t *TestTelemetry) SpansNamed(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, s := range t.Spans() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	if spans := t.SpansNamed(name); len(spans) > 0 {
		return spans[0]
	}
	return nil
}

// AssertSpanAttribute fails tb unless span name carries key=expected.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, expected any) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		tb.Fatalf("span %q not recorded; have %v", name, t.names())
	}
	got, ok := attr(span, key)
	if !ok {
		tb.Errorf("span %q has no attribute %q", name, key)
		return
	}
	if got != expected {
		tb.Errorf("span %q attribute %q = %v, want %v", name, key, got, expected)
	}
}

// AssertSpanError fails tb unless span name ended with an error status.
func (t *TestTelemetry) AssertSpanError(tb testing.TB, name string) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		tb.Fatalf("span %q not recorded; have %v", name, t.names())
	}
	if span.Status().Code != codes.Error {
		tb.Errorf("span %q status = %v, want Error", name, span.Status().Code)
	}
}

// AssertRequestTraced checks the span tree of one processed request: a
// single process span tagged with requestID, and one iteration span per
// performed iteration parented to it.
func (t *TestTelemetry) AssertRequestTraced(tb testing.TB, requestID string, iterations int) {
	tb.Helper()
	var root trace.ReadOnlySpan
	for _, s := range t.SpansNamed(SpanProcess) {
		if id, _ := attr(s, "request.id"); id == requestID {
			root = s
			break
		}
	}
	if root == nil {
		tb.Fatalf("no %s span for request %s; have %v", SpanProcess, requestID, t.names())
	}

	children := 0
	for _, s := range t.SpansNamed(SpanIteration) {
		if s.Parent().SpanID() == root.SpanContext().SpanID() {
			children++
		}
	}
	if children != iterations {
		tb.Errorf("request %s: %d iteration spans, want %d", requestID, children, iterations)
	}
	if got, ok := attr(root, "result.iterations"); ok && got != int64(iterations) {
		tb.Errorf("request %s: result.iterations = %v, want %d", requestID, got, iterations)
	}
}

func (t *TestTelemetry) names() []string {
	spans := t.Spans()
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Name()
	}
	return out
}

func attr(span trace.ReadOnlySpan, key string) (any, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		switch kv.Value.Type() {
		case attribute.STRING:
			return kv.Value.AsString(), true
		case attribute.INT64:
			return kv.Value.AsInt64(), true
		case attribute.FLOAT64:
			return kv.Value.AsFloat64(), true
		case attribute.BOOL:
			return kv.Value.AsBool(), true
		default:
			return kv.Value.AsInterface(), true
		}
	}
	return nil, false
}

// MemoryReader collects metric snapshots on demand.
type MemoryReader struct {
	reader *sdkmetric.ManualReader

	mu        sync.Mutex
	snapshots []metricdata.ResourceMetrics
}

// ForceFlush collects a snapshot and keeps it.
func (r *MemoryReader) ForceFlush(ctx context.Context) error {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, rm)
	r.mu.Unlock()
	return nil
}

// Metrics returns the snapshots collected so far.
func (r *MemoryReader) Metrics() []metricdata.ResourceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots
}
