// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - console output on stdout or stderr, optionally teed to OpenTelemetry
//   - automatic context fields (trace_id, request.id, request.fingerprint, iteration)
//   - encoder-level redaction of secrets and identifier-shaped values
//   - level-aware sampling where errors are never sampled
//
// Usage:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	ctx = logging.WithFingerprint(ctx, fp)
//	logger.Info(ctx, "iteration scored", zap.Float64("confidence", c))
//
// Prompt and response text must never be logged. Fields named "prompt" or
// "response" are redacted by the encoder regardless of content.
//
// Tests use NewTestLogger and its Assert helpers:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "done", zap.String("status", "ok"))
//	tl.AssertField(t, "done", "status", "ok")
//
// Logger is safe for concurrent use.
package logging
