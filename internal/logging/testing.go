// internal/logging/testing.go
package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// leakPatterns match values that must never reach a log line verbatim.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\bMRN[:#]?\s*\d{5,}`),
}

// TestLogger wraps Logger with an in-memory observer so tests can assert on
// what the orchestrator logged.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger that records every level.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// ForRequest returns the entries tagged with requestID.
func (t *TestLogger) ForRequest(requestID string) []observer.LoggedEntry {
	return t.observed.FilterField(zap.String("request.id", requestID)).All()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.observed.FilterLevelExact(level).FilterMessageSnippet(msg).Len() == 0 {
		tb.Errorf("no %v entry containing %q in %d entries", level, msg, t.observed.Len())
	}
}

// AssertField fails tb unless some entry with message msg carries
// key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		for _, f := range entry.Context {
			if f.Key == key && fieldEquals(f, expected) {
				return
			}
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

func fieldEquals(f zapcore.Field, expected any) bool {
	switch want := expected.(type) {
	case string:
		return f.Type == zapcore.StringType && f.String == want
	case int:
		return f.Type == zapcore.Int64Type && f.Integer == int64(want)
	}
	return reflect.DeepEqual(f.Interface, expected)
}

// AssertRequestScoped fails tb unless each of msgs was logged at least once
// carrying requestID and its fingerprint.
func (t *TestLogger) AssertRequestScoped(tb testing.TB, requestID string, msgs ...string) {
	tb.Helper()
	entries := t.ForRequest(requestID)
	for _, msg := range msgs {
		found := false
		for _, e := range entries {
			if e.Message != msg {
				continue
			}
			found = true
			if _, ok := e.ContextMap()["request.fingerprint"]; !ok {
				tb.Errorf("%q for request %s has no fingerprint", msg, requestID)
			}
		}
		if !found {
			tb.Errorf("%q not logged for request %s", msg, requestID)
		}
	}
}

// AssertNoSecrets fails tb if a message or string field matches a leak
// pattern, or a sensitive key holds an unredacted value.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if leaks(entry.Message) {
			tb.Errorf("sensitive value in message %q", entry.Message)
		}
		for _, f := range entry.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if isSensitiveKey(f.Key) && f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") {
				tb.Errorf("field %q not redacted: %q", f.Key, f.String)
			}
			if leaks(f.String) {
				tb.Errorf("sensitive value in field %q: %q", f.Key, f.String)
			}
		}
	}
}

var sensitiveKeys = []string{"password", "secret", "token", "api_key", "authorization", "bearer", "credential", "private_key"}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func leaks(s string) bool {
	for _, re := range leakPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// AssertTraceCorrelation fails tb unless message msg carries a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()["trace_id"]; ok {
			return
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}
