package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore gives every level below Error its own sampling budget from
// cfg.Levels, so a burst of per-layer debug lines during a long refinement
// loop cannot use up the budget for request summaries at Info. Levels with
// no entry share the Info budget; a zero Initial leaves that level
// unsampled. Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{levelRange(core, zapcore.ErrorLevel, zapcore.FatalLevel)}
	for lvl := TraceLevel; lvl < zapcore.ErrorLevel; lvl++ {
		budget, ok := cfg.Levels[lvl]
		if !ok {
			budget = cfg.Levels[zapcore.InfoLevel]
		}
		only := levelRange(core, lvl, lvl)
		if budget.Initial <= 0 {
			cores = append(cores, only)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), budget.Initial, budget.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// rangeCore passes entries whose level lies in [lo, hi].
type rangeCore struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func levelRange(core zapcore.Core, lo, hi zapcore.Level) *rangeCore {
	return &rangeCore{Core: core, lo: lo, hi: hi}
}

func (c *rangeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.lo && lvl <= c.hi && c.Core.Enabled(lvl)
}

func (c *rangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *rangeCore) With(fields []zapcore.Field) zapcore.Core {
	return levelRange(c.Core.With(fields), c.lo, c.hi)
}
