package verify

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/safetyapi"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

const (
	contradictionPenalty  = 35
	incorrectClaimPenalty = 40
	unsupportedNumPenalty = 5
	unsupportedNumCap     = 30
)

// Check is the outcome of one verifier before it is mapped to a
// validation.Result.
type Check struct {
	ID            validation.LayerID `json:"id"`
	Passed        bool               `json:"passed"`
	Confidence    float64            `json:"confidence"`
	MethodsPassed int                `json:"methods_passed"`
	Details       map[string]any     `json:"details,omitempty"`
	RuleIDs       []string           `json:"rule_ids,omitempty"`
	Message       string             `json:"message"`

	// hardFail fails the check regardless of confidence.
	hardFail bool
}

type phrasePair struct {
	id   string
	a, b *regexp.Regexp
}

type claim struct {
	rules.ClaimRule
	re *regexp.Regexp
}

// consistency is V1.
type consistency struct {
	pairs []phrasePair
}

func (v *consistency) check(in Input) Check {
	var ids []string
	negations := negationContradictions(safetyapi.Sentences(in.Output))
	if negations > 0 {
		ids = append(ids, "V1.negation")
	}

	pairs := 0
	for _, p := range v.pairs {
		if p.a.MatchString(in.Output) && p.b.MatchString(in.Output) {
			pairs++
			ids = append(ids, p.id)
		}
	}

	methods := 0
	if negations == 0 {
		methods++
	}
	if pairs == 0 {
		methods++
	}
	total := negations + pairs
	c := Check{
		ID:            validation.V1,
		Confidence:    clamp(100 - contradictionPenalty*float64(total)),
		MethodsPassed: methods,
		Details:       map[string]any{"negation_contradictions": negations, "phrase_contradictions": pairs},
		RuleIDs:       ids,
		Message:       "no contradictions",
	}
	if total > 0 {
		c.Message = fmt.Sprintf("%d contradiction(s)", total)
	}
	return c
}

var negationWords = map[string]bool{"not": true, "no": true, "never": true}

var articles = map[string]bool{"a": true, "an": true, "the": true}

// negationContradictions counts sentence pairs that say the same thing
// with opposite polarity.
func negationContradictions(sentences []string) int {
	type claimKey struct {
		key     string
		negated bool
	}
	seen := make(map[claimKey]bool)
	n := 0
	for _, s := range sentences {
		key, negated, ok := polarity(s)
		if !ok {
			continue
		}
		if seen[claimKey{key, !negated}] && !seen[claimKey{key, negated}] {
			n++
		}
		seen[claimKey{key, negated}] = true
	}
	return n
}

// polarity normalizes a sentence to its words without negations and
// reports whether an odd number of negations was removed. Sentences of
// fewer than three words are ignored.
func polarity(sentence string) (string, bool, bool) {
	fields := strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := make([]string, 0, len(fields))
	negations := 0
	for _, f := range fields {
		f = strings.Trim(f, "'")
		switch {
		case negationWords[f]:
			negations++
			continue
		case f == "can't" || f == "cannot":
			negations++
			f = "can"
		case f == "won't":
			negations++
			f = "will"
		case strings.HasSuffix(f, "n't"):
			negations++
			f = strings.TrimSuffix(f, "n't")
		}
		if f == "" || articles[f] {
			continue
		}
		words = append(words, f)
	}
	if len(words) < 3 {
		return "", false, false
	}
	return strings.Join(words, " "), negations%2 == 1, true
}

// factual is V2.
type factual struct {
	claims []claim
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?%|\b\d{2,}(?:[.,]\d+)*\b`)

func (v *factual) check(in Input) Check {
	var (
		ids         []string
		corrections []string
	)
	for _, cl := range v.claims {
		if cl.Applies(in.Domain) && cl.re.MatchString(in.Output) {
			ids = append(ids, cl.ID)
			corrections = append(corrections, cl.Correction)
		}
	}

	var unsupported []string
	if len(in.Sources) > 0 {
		corpus := strings.Join(in.Sources, "\n")
		seen := make(map[string]bool)
		for _, num := range numberRe.FindAllString(in.Output, -1) {
			if seen[num] {
				continue
			}
			seen[num] = true
			if !strings.Contains(corpus, num) {
				unsupported = append(unsupported, num)
			}
		}
	}

	penalty := incorrectClaimPenalty * float64(len(ids))
	penalty += min(unsupportedNumPenalty*float64(len(unsupported)), unsupportedNumCap)

	methods := 0
	if len(ids) == 0 {
		methods++
	}
	if len(in.Sources) > 0 && len(unsupported) == 0 {
		methods++
	}

	c := Check{
		ID:            validation.V2,
		Confidence:    clamp(100 - penalty),
		MethodsPassed: methods,
		Details:       map[string]any{"incorrect_claims": len(ids), "unsupported_numbers": unsupported},
		RuleIDs:       ids,
		Message:       "no known-incorrect claims",
	}
	if len(corrections) > 0 {
		c.hardFail = true
		c.Details["corrections"] = corrections
		c.Message = "known-incorrect claim: " + strings.Join(corrections, "; ")
	} else if len(unsupported) > 0 {
		c.RuleIDs = append(c.RuleIDs, "V2.unsupported-number")
		c.Message = fmt.Sprintf("%d number(s) not found in sources", len(unsupported))
	}
	return c
}

// completeness is V3.
type completeness struct{}

func (completeness) check(in Input) Check {
	present := make(map[string]bool)
	for _, w := range safetyapi.ContentWords(in.Output) {
		present[w] = true
	}

	var missing []string
	total, covered := 0, 0
	for _, q := range in.SubQuestions {
		keywords := unique(safetyapi.ContentWords(q))
		if len(keywords) == 0 {
			continue
		}
		total++
		hits := 0
		for _, k := range keywords {
			if present[k] {
				hits++
			}
		}
		if 2*hits >= len(keywords) {
			covered++
		} else {
			missing = append(missing, q)
		}
	}

	c := Check{
		ID:            validation.V3,
		Confidence:    100,
		MethodsPassed: 1,
		Details:       map[string]any{"sub_questions": total, "covered": covered},
		Message:       "all sub-questions addressed",
	}
	if total > 0 {
		c.Confidence = 100 * float64(covered) / float64(total)
	}
	if len(missing) > 0 {
		c.MethodsPassed = 0
		c.Details["missing"] = missing
		c.RuleIDs = []string{"V3.coverage"}
		c.Message = fmt.Sprintf("%d of %d sub-questions not addressed", len(missing), total)
	}
	return c
}

// quality is V4.
type quality struct {
	cfg          Config
	placeholders []*regexp.Regexp
}

const qualityMethods = 5

func (v *quality) check(in Input) Check {
	text := strings.TrimSpace(in.Output)
	if text == "" {
		return Check{
			ID:      validation.V4,
			Details: map[string]any{"empty": true},
			RuleIDs: []string{"V4.empty"},
			Message: "empty output",
		}
	}

	var (
		penalty float64
		ids     []string
		issues  []string
	)
	flag := func(id, issue string, p float64) {
		penalty += p
		ids = append(ids, id)
		issues = append(issues, issue)
	}

	length := utf8.RuneCountInString(text)
	if length > v.cfg.MaxLength {
		flag("V4.length", fmt.Sprintf("output exceeds %d characters", v.cfg.MaxLength), 30)
	}

	sentences := safetyapi.Sentences(text)
	words := len(strings.Fields(text))
	avg := float64(words) / float64(max(len(sentences), 1))
	if avg > v.cfg.MaxAvgSentenceWords {
		flag("V4.readability", fmt.Sprintf("average sentence length %.0f words", avg), 20)
	}

	dupRatio := duplicateRatio(sentences)
	if dupRatio > v.cfg.MaxDuplicateRatio {
		flag("V4.duplication", fmt.Sprintf("%.0f%% duplicated sentences", dupRatio*100), 20)
	}

	for _, re := range v.placeholders {
		if re.MatchString(text) {
			flag("V4.placeholder", "template placeholder left in output", 20)
			break
		}
	}

	if words < v.cfg.MinWords {
		flag("V4.too-short", fmt.Sprintf("fewer than %d words", v.cfg.MinWords), 20)
	}

	c := Check{
		ID:            validation.V4,
		Confidence:    clamp(100 - penalty),
		MethodsPassed: qualityMethods - len(ids),
		Details: map[string]any{
			"characters":         length,
			"words":              words,
			"avg_sentence_words": avg,
			"duplicate_ratio":    dupRatio,
		},
		RuleIDs: ids,
		Message: "quality acceptable",
	}
	if len(issues) > 0 {
		c.Details["issues"] = issues
		c.Message = strings.Join(issues, "; ")
	}
	return c
}

func duplicateRatio(sentences []string) float64 {
	if len(sentences) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(sentences))
	for _, s := range sentences {
		seen[strings.ToLower(strings.Join(strings.Fields(s), " "))] = true
	}
	return float64(len(sentences)-len(seen)) / float64(len(sentences))
}

func unique(ws []string) []string {
	seen := make(map[string]bool, len(ws))
	out := ws[:0]
	for _, w := range ws {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}
