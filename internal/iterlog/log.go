// Package iterlog keeps the per-request iteration history: sanitized
// captures of each pass, its verification outcome and stage timings, and a
// rolling timing profile.
package iterlog

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxCapture bounds the runes kept of any captured text.
const MaxCapture = 4096

var (
	// ErrOutOfOrder is returned when a record does not follow the last one.
	ErrOutOfOrder = errors.New("iteration record out of order")
)

// Log is safe for concurrent use.
type Log struct {
	requestID   string
	fingerprint string
	sanitizer   Sanitizer
	profiling   bool

	mu      sync.RWMutex
	prompt  string
	records []Record
	profile Profile
}

// New returns an empty log. A nil sanitizer keeps text as is (still
// truncated).
func New(requestID, fingerprint string, sanitizer Sanitizer, profiling bool) *Log {
	return &Log{
		requestID:   requestID,
		fingerprint: fingerprint,
		sanitizer:   sanitizer,
		profiling:   profiling,
		profile:     Profile{Stages: map[Stage]StageStats{}},
	}
}

// RequestID returns the request the log belongs to.
func (l *Log) RequestID() string { return l.requestID }

// Fingerprint returns the request fingerprint.
func (l *Log) Fingerprint() string { return l.fingerprint }

// Sanitize redacts and truncates text.
func (l *Log) Sanitize(text string) string {
	if l.sanitizer != nil {
		text = l.sanitizer.Sanitize(text)
	}
	return truncate(text, MaxCapture)
}

// SetPrompt stores a sanitized copy of the prompt.
func (l *Log) SetPrompt(prompt string) {
	s := l.Sanitize(prompt)
	l.mu.Lock()
	l.prompt = s
	l.mu.Unlock()
}

// Prompt returns the sanitized prompt.
func (l *Log) Prompt() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prompt
}

// Append adds r after sanitizing its captures. Index and StartedAt must be
// strictly greater than those of the last record.
func (l *Log) Append(r Record) error {
	r.SanitizedContext = l.Sanitize(r.SanitizedContext)
	r.SanitizedOutput = l.Sanitize(r.SanitizedOutput)

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.records); n > 0 {
		last := l.records[n-1]
		if r.Index <= last.Index {
			return fmt.Errorf("%w: index %d after %d", ErrOutOfOrder, r.Index, last.Index)
		}
		if !r.StartedAt.After(last.StartedAt) {
			return fmt.Errorf("%w: iteration %d started at %s, not after %s",
				ErrOutOfOrder, r.Index, r.StartedAt.Format(time.RFC3339Nano), last.StartedAt.Format(time.RFC3339Nano))
		}
	} else if r.Index < 1 {
		return fmt.Errorf("%w: index %d", ErrOutOfOrder, r.Index)
	}

	l.records = append(l.records, r)
	if l.profiling {
		l.profile = buildProfile(l.records)
	}
	return nil
}

// Records returns a copy of the records.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Last returns the most recent record.
func (l *Log) Last() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[len(l.records)-1], true
}

// Profiling reports whether the profile is maintained.
func (l *Log) Profiling() bool { return l.profiling }

// Profile returns the current timing profile; empty when profiling is off.
func (l *Log) Profile() Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := Profile{Iterations: l.profile.Iterations, Bottleneck: l.profile.Bottleneck, Stages: make(map[Stage]StageStats, len(l.profile.Stages))}
	for s, st := range l.profile.Stages {
		p.Stages[s] = st
	}
	return p
}

func buildProfile(records []Record) Profile {
	p := Profile{Iterations: len(records), Stages: make(map[Stage]StageStats)}
	for _, r := range records {
		for stage, d := range r.StageTimings {
			st, ok := p.Stages[stage]
			if !ok || d < st.Min {
				st.Min = d
			}
			if d > st.Max {
				st.Max = d
			}
			st.Count++
			st.Total += d
			p.Stages[stage] = st
		}
	}

	var worst time.Duration
	for _, stage := range Stages {
		st, ok := p.Stages[stage]
		if !ok {
			continue
		}
		st.Avg = st.Total / time.Duration(st.Count)
		p.Stages[stage] = st
		if p.Bottleneck == "" || st.Total > worst {
			p.Bottleneck, worst = stage, st.Total
		}
	}
	return p
}

// Document renders the log in its persisted form. Durations are seconds.
func (l *Log) Document() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	iterations := make([]map[string]any, 0, len(l.records))
	for _, r := range l.records {
		timings := make(map[string]float64, len(r.StageTimings))
		for s, d := range r.StageTimings {
			timings[string(s)] = d.Seconds()
		}
		it := map[string]any{
			"index":             r.Index,
			"started_at":        r.StartedAt.UTC().Format(time.RFC3339Nano),
			"duration_seconds":  r.Duration.Seconds(),
			"succeeded":         r.Succeeded,
			"sanitized_context": r.SanitizedContext,
			"sanitized_output":  r.SanitizedOutput,
			"confidence":        r.Confidence,
			"verification":      r.Verification,
			"stage_timings":     timings,
		}
		if r.Error != "" {
			it["error"] = r.Error
			it["error_kind"] = r.ErrorKind
		}
		if r.Retries > 0 {
			it["retries"] = r.Retries
		}
		iterations = append(iterations, it)
	}

	doc := map[string]any{
		"request_id":       l.requestID,
		"fingerprint":      l.fingerprint,
		"sanitized_prompt": l.prompt,
		"iterations":       iterations,
	}
	if l.profiling {
		doc["performance_profile"] = l.profile.ToMap()
	}
	return doc
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…[truncated]"
}
