// Package validation holds the values produced by guardrail layers and
// verifiers and the aggregate a single iteration is judged by.
package validation

import (
	"fmt"
	"sort"
	"time"
)

// LayerID names a guardrail layer (L1-L7) or a verifier (V1-V4).
type LayerID string

const (
	L1 LayerID = "L1" // prompt shield
	L2 LayerID = "L2" // input content safety
	L3 LayerID = "L3" // input PHI
	L4 LayerID = "L4" // output terminology
	L5 LayerID = "L5" // output content safety
	L6 LayerID = "L6" // output groundedness
	L7 LayerID = "L7" // output compliance

	V1 LayerID = "V1" // logical consistency
	V2 LayerID = "V2" // factual accuracy
	V3 LayerID = "V3" // completeness
	V4 LayerID = "V4" // quality
)

// MaxSeverity is the worst severity a result can carry.
const MaxSeverity = 10

// Layers lists every known id in display order.
var Layers = []LayerID{L1, L2, L3, L4, L5, L6, L7, V1, V2, V3, V4}

var order = func() map[LayerID]int {
	m := make(map[LayerID]int, len(Layers))
	for i, id := range Layers {
		m[id] = i
	}
	return m
}()

// thresholds is the highest severity a passing result may report.
var thresholds = map[LayerID]int{
	L1: 1, L2: 1, L3: 0, L4: 3, L5: 1, L6: 2, L7: 3,
	V1: 3, V2: 3, V3: 3, V4: 3,
}

// Known reports whether id is a recognized layer or verifier.
func (id LayerID) Known() bool {
	_, ok := order[id]
	return ok
}

// IsGuardrail reports whether id is one of L1-L7.
func (id LayerID) IsGuardrail() bool {
	return id.Known() && id[0] == 'L'
}

// Threshold returns the highest severity a passing result of id may carry.
func Threshold(id LayerID) int {
	if t, ok := thresholds[id]; ok {
		return t
	}
	return 0
}

// Result is the outcome of one layer or verifier. Results are values and are
// never modified after construction.
type Result struct {
	Layer     LayerID        `json:"layer_id"`
	Passed    bool           `json:"passed"`
	Severity  int            `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RuleIDs   []string       `json:"rule_ids,omitempty"`
	Skipped   bool           `json:"skipped,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func clampSeverity(s int) int {
	switch {
	case s < 0:
		return 0
	case s > MaxSeverity:
		return MaxSeverity
	}
	return s
}

// Pass builds a passing result. Severity above the layer threshold is
// lowered to the threshold so a passing result never exceeds it.
func Pass(id LayerID, severity int, msg string, details map[string]any) Result {
	s := clampSeverity(severity)
	if t := Threshold(id); s > t {
		s = t
	}
	return Result{Layer: id, Passed: true, Severity: s, Message: msg, Details: details, Timestamp: time.Now()}
}

// Warn is a passing result at the layer threshold (at most 1).
func Warn(id LayerID, msg string, details map[string]any) Result {
	s := Threshold(id)
	if s > 1 {
		s = 1
	}
	return Pass(id, s, msg, details)
}

// Fail builds a failing result; severity is clamped to [1,10].
func Fail(id LayerID, severity int, msg string, details map[string]any, ruleIDs ...string) Result {
	s := clampSeverity(severity)
	if s == 0 {
		s = 1
	}
	return Result{
		Layer: id, Passed: false, Severity: s, Message: msg, Details: details,
		RuleIDs: dedupe(ruleIDs), Timestamp: time.Now(),
	}
}

// WithRules returns a copy of r carrying the given rule ids.
func (r Result) WithRules(ids ...string) Result {
	r.RuleIDs = dedupe(append(append([]string(nil), r.RuleIDs...), ids...))
	return r
}

// Confidence maps severity to a 0-100 layer confidence.
func (r Result) Confidence() float64 {
	return clamp(100-10*float64(r.Severity), 0, 100)
}

func (r Result) String() string {
	state := "pass"
	if !r.Passed {
		state = "fail"
	}
	return fmt.Sprintf("%s %s severity=%d: %s", r.Layer, state, r.Severity, r.Message)
}

// Aggregate is the combined validation outcome of one iteration.
type Aggregate struct {
	Passed              bool      `json:"passed"`
	Confidence          float64   `json:"confidence"`
	GuardrailConfidence float64   `json:"guardrail_confidence"`
	VerifierConfidence  float64   `json:"verifier_confidence"`
	WeightedConfidence  float64   `json:"weighted_confidence"`
	PerLayer            []Result  `json:"per_layer"`
	FailedRuleIDs       []string  `json:"failed_rule_ids"`
	MandatoryFailed     []LayerID `json:"mandatory_failed,omitempty"`
}

// Layer returns the result for id, if present.
func (a Aggregate) Layer(id LayerID) (Result, bool) {
	for _, r := range a.PerLayer {
		if r.Layer == id {
			return r, true
		}
	}
	return Result{}, false
}

// FailedLayers counts results that did not pass.
func (a Aggregate) FailedLayers() int {
	n := 0
	for _, r := range a.PerLayer {
		if !r.Passed {
			n++
		}
	}
	return n
}

// SortResults orders results by layer id (L1..L7, V1..V4).
func SortResults(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool { return order[rs[i].Layer] < order[rs[j].Layer] })
}

// FailedRuleIDs collects the sorted, de-duplicated rule ids of every failed
// result. A failed result without rule ids contributes "<layer>".
func FailedRuleIDs(rs []Result) []string {
	var ids []string
	for _, r := range rs {
		if r.Passed {
			continue
		}
		if len(r.RuleIDs) == 0 {
			ids = append(ids, string(r.Layer))
			continue
		}
		ids = append(ids, r.RuleIDs...)
	}
	out := dedupe(ids)
	sort.Strings(out)
	return out
}

// Merge combines several aggregates into one PerLayer view. Passed and the
// confidence fields are left for the caller to decide.
func Merge(parts ...Aggregate) Aggregate {
	var out Aggregate
	for _, p := range parts {
		out.PerLayer = append(out.PerLayer, p.PerLayer...)
		out.MandatoryFailed = append(out.MandatoryFailed, p.MandatoryFailed...)
	}
	SortResults(out.PerLayer)
	out.FailedRuleIDs = FailedRuleIDs(out.PerLayer)
	return out
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
