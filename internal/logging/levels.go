package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below Debug. The orchestrator uses it for
// per-layer and per-verifier detail: matched rule ids, sanitized snippets
// and stage timings. Production configs leave it off.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a configured level name. Matching ignores case and
// surrounding space, and accepts "trace" in addition to the zap names.
func LevelFromString(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "trace" {
		return TraceLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}
