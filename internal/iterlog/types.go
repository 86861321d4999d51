package iterlog

import (
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Stage is one timed step of an iteration.
type Stage string

const (
	StageContextGather Stage = "context_gather"
	StageActionExecute Stage = "action_execute"
	StageVerify        Stage = "verify"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageContextGather, StageActionExecute, StageVerify}

// Record describes one loop pass.
type Record struct {
	// Index is 1-based and strictly increasing within a log.
	Index int `json:"index"`

	// StartedAt is strictly increasing within a log.
	StartedAt time.Time `json:"started_at"`

	// Duration covers all stages of the pass.
	Duration time.Duration `json:"duration"`

	// Succeeded is false when a stage failed.
	Succeeded bool `json:"succeeded"`

	// SanitizedContext and SanitizedOutput are redacted copies kept for
	// logging only.
	SanitizedContext string `json:"sanitized_context"`
	SanitizedOutput  string `json:"sanitized_output"`

	// Verification is the merged guardrail and verifier outcome.
	Verification validation.Aggregate `json:"verification"`

	// Confidence is the scorer output for this pass.
	Confidence float64 `json:"confidence"`

	// StageTimings holds the duration of each stage that ran.
	StageTimings map[Stage]time.Duration `json:"stage_timings"`

	// Error and ErrorKind describe a stage failure.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// Retries is the number of transient retries spent on this pass.
	Retries int `json:"retries,omitempty"`
}

// ErrorCount is the number of failed layers plus one for a stage error.
func (r Record) ErrorCount() int {
	n := r.Verification.FailedLayers()
	if r.Error != "" {
		n++
	}
	return n
}

// FailedRuleCount is the number of distinct failed rule ids.
func (r Record) FailedRuleCount() int {
	return len(r.Verification.FailedRuleIDs)
}

// StageStats summarizes one stage across iterations.
type StageStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Profile is the rolling per-stage timing summary.
type Profile struct {
	Iterations int                  `json:"iterations"`
	Stages     map[Stage]StageStats `json:"stages"`
	// Bottleneck is the stage with the largest total time.
	Bottleneck Stage `json:"bottleneck,omitempty"`
}

// ToMap renders the profile with durations in seconds.
func (p Profile) ToMap() map[string]any {
	stages := make(map[string]any, len(p.Stages))
	for s, st := range p.Stages {
		stages[string(s)] = map[string]any{
			"count":         st.Count,
			"total_seconds": st.Total.Seconds(),
			"avg_seconds":   st.Avg.Seconds(),
			"min_seconds":   st.Min.Seconds(),
			"max_seconds":   st.Max.Seconds(),
		}
	}
	return map[string]any{
		"iterations": p.Iterations,
		"stages":     stages,
		"bottleneck": string(p.Bottleneck),
	}
}
