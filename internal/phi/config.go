package phi

import (
	"fmt"
	"regexp"
	"strings"
)

// Config configures the detector.
type Config struct {
	// Rules are evaluated in order; on overlapping matches the earlier rule
	// names the category.
	Rules []Rule

	// AllowList holds patterns for identifiers that are never reported,
	// e.g. well-known test numbers.
	AllowList []string

	// ContextKeywords are cues such as "DOB" or "MRN". A cue followed by a run
	// of at least three digits within ContextWindow characters is a context hit.
	ContextKeywords []string
	ContextWindow   int

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
	contextPattern    *regexp.Regexp
}

// Rule is a single identifier pattern. When the pattern has a capture group,
// only the first group is the identifier; the rest of the match is context.
type Rule struct {
	ID       string
	Category Category
	Pattern  string
	// Keywords, when set, must appear (case-insensitively) in the text before
	// the pattern is evaluated.
	Keywords []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

// DefaultConfig returns the built-in HIPAA rule set.
func DefaultConfig() *Config {
	return &Config{
		Rules: DefaultRules(),
		ContextKeywords: []string{
			"dob", "d.o.b", "date of birth", "mrn", "medical record", "ssn",
			"social security", "account", "acct", "member id", "policy number",
			"license", "serial",
		},
		ContextWindow: 24,
	}
}

// Validate compiles rules, the allow list and the context cue pattern.
func (c *Config) Validate() error {
	if c.ContextWindow <= 0 {
		c.ContextWindow = 24
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	seen := make(map[string]bool, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rule %s: duplicate ID", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		if !rule.Category.Known() {
			return fmt.Errorf("rule %s: unknown category %q", rule.ID, rule.Category)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		kws := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			kws = append(kws, strings.ToLower(kw))
		}
		c.compiledRules = append(c.compiledRules, &compiledRule{Rule: rule, pattern: pattern, keywords: kws})
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}

	c.contextPattern = nil
	if len(c.ContextKeywords) > 0 {
		quoted := make([]string, len(c.ContextKeywords))
		for i, kw := range c.ContextKeywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		expr := fmt.Sprintf(`(?i)\b(?:%s)\b[^\n]{0,%d}?\d{3}`, strings.Join(quoted, "|"), c.ContextWindow)
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("context keywords: %w", err)
		}
		c.contextPattern = re
	}
	return nil
}
