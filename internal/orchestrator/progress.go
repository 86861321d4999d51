package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
)

// progressLookback is how many iterations back a record is compared.
const progressLookback = 3

// IsMakingProgress reports whether the latest record has fewer errors or
// fewer failed rules than the record three iterations earlier (or the
// first record when there are fewer).
func IsMakingProgress(records []iterlog.Record) bool {
	n := len(records)
	if n < 2 {
		return false
	}
	last := records[n-1]
	ref := records[max(0, n-1-progressLookback)]
	return last.ErrorCount() < ref.ErrorCount() || last.FailedRuleCount() < ref.FailedRuleCount()
}

// EventKind names a progress event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventIteration EventKind = "iteration"
	EventExtended  EventKind = "extended"
	EventCompleted EventKind = "completed"
)

// Progress reports loop progress for one request.
type Progress struct {
	Kind         EventKind     `json:"kind"`
	RequestID    string        `json:"request_id"`
	Fingerprint  string        `json:"fingerprint"`
	Iteration    int           `json:"iteration,omitempty"`
	EffectiveMax int           `json:"effective_max_iterations"`
	Confidence   float64       `json:"confidence,omitempty"`
	Success      bool          `json:"success,omitempty"`
	Error        ErrorCategory `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// ProgressFunc receives progress updates. It is called synchronously from
// the loop and must not block.
type ProgressFunc func(Progress)
