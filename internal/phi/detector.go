// Package phi detects and redacts protected health information.
//
// Detection combines literal pattern rules for the HIPAA identifier
// categories with context cues such as "DOB" or "MRN" followed by digits.
// Raw matches never leave the package: callers see counts, categories and
// masked samples only.
package phi

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

const maxSamplesPerCategory = 3

// Detector scans text for PHI. It is immutable after New and safe for
// concurrent use.
type Detector struct {
	config *Config
}

// span is a located identifier.
type span struct {
	start, end int
	category   Category
	ruleID     string
	order      int
}

// Redaction is the outcome of Redact.
type Redaction struct {
	Text       string
	Spans      int
	ByCategory map[Category]int
}

// New compiles cfg. A nil cfg uses DefaultConfig().
func New(cfg *Config) (*Detector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phi config: %w", err)
	}
	return &Detector{config: cfg}, nil
}

// MustNew is New that panics on error.
func MustNew(cfg *Config) *Detector {
	d, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

// FromSettings builds a Config from the built-in rules plus the operator's
// extra rules and allow list.
func FromSettings(s config.PHIConfig) *Config {
	cfg := DefaultConfig()
	for _, r := range s.ExtraRules {
		cfg.Rules = append(cfg.Rules, Rule{
			ID:       r.ID,
			Category: Category(r.Category),
			Pattern:  r.Pattern,
		})
	}
	cfg.AllowList = append(cfg.AllowList, s.AllowList...)
	return cfg
}

// Scan reports PHI in text as an L3 validation result.
func (d *Detector) Scan(text string) validation.Result {
	spans := d.find(text)
	contextHits := len(d.contextHits(text))

	if len(spans) == 0 && contextHits == 0 {
		return validation.Pass(validation.L3, 0, "no protected identifiers detected", nil)
	}

	categories := make(map[string]int)
	samples := make(map[string][]string)
	ruleSet := make(map[string]struct{})
	for _, s := range spans {
		cat := string(s.category)
		categories[cat]++
		if len(samples[cat]) < maxSamplesPerCategory {
			samples[cat] = append(samples[cat], Mask(text[s.start:s.end]))
		}
		ruleSet[s.ruleID] = struct{}{}
	}
	ruleIDs := make([]string, 0, len(ruleSet)+1)
	for id := range ruleSet {
		ruleIDs = append(ruleIDs, "phi."+id)
	}
	if contextHits > 0 {
		ruleIDs = append(ruleIDs, "phi.context")
	}
	sort.Strings(ruleIDs)

	severity := len(spans) + contextHits
	if severity > validation.MaxSeverity {
		severity = validation.MaxSeverity
	}

	details := map[string]any{
		"categories":   categories,
		"samples":      samples,
		"pattern_hits": len(spans),
		"context_hits": contextHits,
	}
	msg := fmt.Sprintf("detected %d protected identifiers and %d context cues", len(spans), contextHits)
	return validation.Fail(validation.L3, severity, msg, details, ruleIDs...)
}

// Redact replaces every identifier with its category token. Digit runs that
// follow a context cue and are not already covered become [ID].
func (d *Detector) Redact(text string) Redaction {
	spans := d.find(text)
	for _, cs := range d.contextHits(text) {
		if !covered(spans, cs) {
			spans = append(spans, cs)
		}
	}
	out := Redaction{Text: text, Spans: len(spans), ByCategory: make(map[Category]int)}
	if len(spans) == 0 {
		return out
	}

	for _, s := range spans {
		out.ByCategory[s.category]++
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	redacted := text
	for _, s := range spans {
		redacted = redacted[:s.start] + s.category.Token() + redacted[s.end:]
	}
	out.Text = redacted
	return out
}

// RedactString is Redact returning only the text.
func (d *Detector) RedactString(text string) string {
	return d.Redact(text).Text
}

// find returns non-overlapping identifier spans ordered by start.
func (d *Detector) find(text string) []span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var found []span
	for order, rule := range d.config.compiledRules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if start == end || d.isAllowed(text[start:end]) {
				continue
			}
			found = append(found, span{start: start, end: end, category: rule.Category, ruleID: rule.ID, order: order})
		}
	}
	return mergeSpans(found)
}

// contextHits locates the digit run completing each context cue.
func (d *Detector) contextHits(text string) []span {
	if d.config.contextPattern == nil {
		return nil
	}
	matches := d.config.contextPattern.FindAllStringIndex(text, -1)
	hits := make([]span, 0, len(matches))
	for _, m := range matches {
		start, end := m[1]-3, m[1]
		for start > m[0] && isDigit(text[start-1]) {
			start--
		}
		for end < len(text) && isDigit(text[end]) {
			end++
		}
		hits = append(hits, span{start: start, end: end, category: OtherID, ruleID: "context"})
	}
	return hits
}

func (d *Detector) isAllowed(match string) bool {
	for _, re := range d.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// mergeSpans sorts by start (rule order breaks ties) and folds overlaps into
// the earlier span, which keeps its category.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].order < spans[j].order
	})

	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start < last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

func covered(spans []span, s span) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Mask hides an identifier for display, keeping punctuation and spacing and
// revealing at most the final two letters or digits of values longer than
// four.
func Mask(s string) string {
	runes := []rune(s)
	alnum := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	keep := 0
	if alnum > 4 {
		keep = 2
	}

	out := make([]rune, len(runes))
	for i := len(runes) - 1; i >= 0; i-- {
		r := runes[i]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			out[i] = r
			continue
		}
		if keep > 0 {
			out[i] = r
			keep--
			continue
		}
		out[i] = '*'
	}
	return string(out)
}
