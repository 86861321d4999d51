// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if fp := FingerprintFromContext(ctx); fp != "" {
		fields = append(fields, zap.String("request.fingerprint", fp))
	}
	if k, ok := IterationFromContext(ctx); ok {
		fields = append(fields, zap.Int("iteration", k))
	}

	return fields
}

type requestCtxKey struct{}
type fingerprintCtxKey struct{}
type iterationCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id can be attached with WithRequestID or
// WithFingerprint without panicking.
func ValidID(id string) bool {
	return validateID(id, "id") == nil
}

// validateID validates a request ID or fingerprint.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// FingerprintFromContext extracts the request fingerprint from context.
func FingerprintFromContext(ctx context.Context) string {
	if f, ok := ctx.Value(fingerprintCtxKey{}).(string); ok {
		return f
	}
	return ""
}

// WithFingerprint adds the request fingerprint to context.
// Panics if fingerprint is empty or contains invalid characters.
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	if err := validateID(fingerprint, "fingerprint"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, fingerprintCtxKey{}, fingerprint)
}

// IterationFromContext returns the loop iteration stored in ctx.
func IterationFromContext(ctx context.Context) (int, bool) {
	k, ok := ctx.Value(iterationCtxKey{}).(int)
	return k, ok
}

// WithIteration tags ctx with the 1-based loop iteration.
func WithIteration(ctx context.Context, k int) context.Context {
	return context.WithValue(ctx, iterationCtxKey{}, k)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
