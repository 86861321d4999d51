// Package telemetry wires OpenTelemetry tracing and metrics.
//
// The orchestrator opens one span per request ("ultrathink.process") with a
// child per iteration and per validation stage. Export goes over OTLP (gRPC
// or HTTP/protobuf) to a collector; with telemetry disabled the global no-op
// providers are used and nothing leaves the process.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
//	defer tel.Shutdown(ctx)
//	ctx, span := tel.Tracer("ultrathink/orchestrator").Start(ctx, "ultrathink.process")
//	defer telemetry.EndSpan(span, err)
//
// Tests use NewTestTelemetry, which records spans with a tracetest.SpanRecorder
// and metrics with a manual reader.
package telemetry
