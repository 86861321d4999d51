package safetyapi

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// LexicalGroundedness estimates groundedness locally from word overlap. It
// is used when no groundedness endpoint is configured.
//
// A sentence with at least three content words is grounded when at least
// half of them occur in the sources. The ungrounded fraction is the
// character-weighted share of ungrounded sentences.
type LexicalGroundedness struct{}

var sentenceSplit = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "had": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true, "have": true,
	"his": true, "how": true, "its": true, "may": true, "new": true, "now": true,
	"who": true, "did": true, "get": true, "use": true, "that": true, "this": true,
	"with": true, "from": true, "they": true, "will": true, "would": true,
	"there": true, "their": true, "what": true, "about": true, "which": true,
	"when": true, "were": true, "been": true, "also": true, "into": true,
	"more": true, "than": true, "then": true, "them": true, "these": true,
	"some": true, "such": true, "only": true, "other": true, "very": true,
	"your": true, "each": true, "does": true, "most": true, "over": true,
	"while": true, "where": true, "being": true, "because": true, "should": true,
}

// CheckGroundedness never reports Unavailable.
func (LexicalGroundedness) CheckGroundedness(_ context.Context, req GroundednessRequest) GroundednessResult {
	known := make(map[string]bool)
	for _, src := range req.Sources {
		for _, w := range ContentWords(src) {
			known[w] = true
		}
	}

	var total, ungrounded int
	for _, sentence := range Sentences(req.Output) {
		words := ContentWords(sentence)
		if len(words) < 3 {
			continue
		}
		hits := 0
		for _, w := range words {
			if known[w] {
				hits++
			}
		}
		total += len(sentence)
		if 2*hits < len(words) {
			ungrounded += len(sentence)
		}
	}

	if total == 0 {
		return GroundednessResult{}
	}
	return GroundednessResult{UngroundedFraction: float64(ungrounded) / float64(total)}
}

// Sentences splits text on terminal punctuation and newlines.
func Sentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContentWords lowercases text and returns its words of three or more
// letters that are not stopwords, with a plural "s" trimmed.
func ContentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopwords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}

var _ GroundednessChecker = LexicalGroundedness{}
