// Package safety scores text against weighted jailbreak, injection and
// harmful-content phrase rules.
package safety

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Mode selects which categories are evaluated and which layer reports.
type Mode int

const (
	// ModeInput checks prompts for jailbreak and injection phrasings (L1).
	ModeInput Mode = iota
	// ModeInputContent checks prompts for harmful content (L2).
	ModeInputContent
	// ModeOutputContent checks responses for harmful content (L5).
	ModeOutputContent
)

// Layer is the validation layer a mode reports as.
func (m Mode) Layer() validation.LayerID {
	switch m {
	case ModeInput:
		return validation.L1
	case ModeInputContent:
		return validation.L2
	default:
		return validation.L5
	}
}

func (m Mode) categories() []string {
	if m == ModeInput {
		return rules.InputCategories
	}
	return rules.ContentCategories
}

type compiledRule struct {
	rules.SafetyRule
	pattern *regexp.Regexp
}

// Engine evaluates compiled safety rules. Safe for concurrent use.
type Engine struct {
	byCategory map[string][]compiledRule
	thresholds map[string]float64
}

// CategoryScore is the outcome for one category.
type CategoryScore struct {
	Weight    float64
	Threshold float64
	RuleIDs   []string
}

// Ratio is the summed weight relative to the threshold.
func (s CategoryScore) Ratio() float64 {
	if s.Threshold <= 0 {
		return 0
	}
	return s.Weight / s.Threshold
}

// Exceeded reports whether the category fails.
func (s CategoryScore) Exceeded() bool {
	return s.Weight > s.Threshold
}

// New compiles the safety rules.
func New(sr rules.SafetyRules) (*Engine, error) {
	e := &Engine{
		byCategory: make(map[string][]compiledRule),
		thresholds: make(map[string]float64, len(sr.Thresholds)),
	}
	for cat, th := range sr.Thresholds {
		e.thresholds[cat] = th
	}
	for _, r := range sr.Rules {
		if _, ok := e.thresholds[r.Category]; !ok {
			return nil, fmt.Errorf("safety rule %s: no threshold for category %q", r.ID, r.Category)
		}
		re, err := rules.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %s: %w", r.ID, err)
		}
		e.byCategory[r.Category] = append(e.byCategory[r.Category], compiledRule{SafetyRule: r, pattern: re})
	}
	return e, nil
}

// Score returns per-category hits for the mode. Each rule counts once no
// matter how often it matches.
func (e *Engine) Score(text string, mode Mode) map[string]CategoryScore {
	out := make(map[string]CategoryScore, len(mode.categories()))
	for _, cat := range mode.categories() {
		score := CategoryScore{Threshold: e.thresholds[cat]}
		for _, r := range e.byCategory[cat] {
			if r.pattern.MatchString(text) {
				score.Weight += r.Weight
				score.RuleIDs = append(score.RuleIDs, r.ID)
			}
		}
		out[cat] = score
	}
	return out
}

// Scan evaluates text and reports the mode's layer result.
//
// Severity is 0 without hits and 1 when hits stay within every threshold.
// On failure it is ceil(5 * worst ratio) clamped to [6, 10].
func (e *Engine) Scan(text string, mode Mode) validation.Result {
	layer := mode.Layer()
	scores := e.Score(text, mode)

	var (
		ruleIDs  []string
		failed   []string
		maxRatio float64
	)
	weights := make(map[string]float64)
	for cat, s := range scores {
		if len(s.RuleIDs) == 0 {
			continue
		}
		weights[cat] = s.Weight
		ruleIDs = append(ruleIDs, s.RuleIDs...)
		if s.Exceeded() {
			failed = append(failed, cat)
			if r := s.Ratio(); r > maxRatio {
				maxRatio = r
			}
		}
	}
	sort.Strings(ruleIDs)
	sort.Strings(failed)

	if len(ruleIDs) == 0 {
		return validation.Pass(layer, 0, "no unsafe patterns", nil)
	}

	details := map[string]any{"category_weights": weights}
	if len(failed) == 0 {
		details["rule_ids"] = ruleIDs
		return validation.Pass(layer, 1, "unsafe patterns below threshold", details)
	}

	severity := int(math.Ceil(5 * maxRatio))
	if severity < 6 {
		severity = 6
	}
	if severity > validation.MaxSeverity {
		severity = validation.MaxSeverity
	}
	details["failed_categories"] = failed
	msg := fmt.Sprintf("unsafe content: %v", failed)
	return validation.Fail(layer, severity, msg, details, ruleIDs...)
}
