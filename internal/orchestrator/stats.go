package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Recorder receives loop measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RequestFinished(res *Result)
	LayerResult(r validation.Result)
	StageDuration(stage iterlog.Stage, d time.Duration)
	Extended()
	TransientRetry()
	PoolFree(n int)
}

// Sink persists the final document of a request.
type Sink interface {
	Write(ctx context.Context, key string, doc map[string]any) error
}

type nopRecorder struct{}

func (nopRecorder) RequestFinished(*Result)                     {}
func (nopRecorder) LayerResult(validation.Result)               {}
func (nopRecorder) StageDuration(iterlog.Stage, time.Duration) {}
func (nopRecorder) Extended()                                   {}
func (nopRecorder) TransientRetry()                             {}
func (nopRecorder) PoolFree(int)                                {}

type layerCount struct {
	passed int
	total  int
}

// statsAccumulator folds finished requests into Stats.
type statsAccumulator struct {
	mu            sync.Mutex
	requests      int
	successes     int
	confidenceSum float64
	iterationSum  int
	durationSum   time.Duration
	layers        map[validation.LayerID]*layerCount
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{layers: map[validation.LayerID]*layerCount{}}
}

func (s *statsAccumulator) add(res *Result) {
	results := append([]validation.Result(nil), res.InputValidation.PerLayer...)
	if res.IterationLog != nil {
		for _, rec := range res.IterationLog.Records() {
			results = append(results, rec.Verification.PerLayer...)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if res.Success {
		s.successes++
	}
	s.confidenceSum += res.Confidence
	s.iterationSum += res.IterationsPerformed
	s.durationSum += res.Duration
	for _, r := range results {
		c, ok := s.layers[r.Layer]
		if !ok {
			c = &layerCount{}
			s.layers[r.Layer] = c
		}
		c.total++
		if r.Passed {
			c.passed++
		}
	}
}

func (s *statsAccumulator) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Requests:       s.requests,
		Successes:      s.successes,
		Failures:       s.requests - s.successes,
		LayerPassRates: make(map[string]float64, len(s.layers)),
	}
	if s.requests > 0 {
		n := float64(s.requests)
		st.AvgConfidence = s.confidenceSum / n
		st.AvgIterations = float64(s.iterationSum) / n
		st.AvgDurationSeconds = s.durationSum.Seconds() / n
	}
	for id, c := range s.layers {
		if c.total > 0 {
			st.LayerPassRates[string(id)] = float64(c.passed) / float64(c.total)
		}
	}
	return st
}
