// Package rules holds the rule tables used by the guardrail layers and the
// verifier: safety phrase lists, terminology and compliance rules, known
// incorrect claims and contradiction pairs.
//
// A Pack is built from the defaults, optionally overlaid with a TOML file,
// validated once and never mutated afterwards.
package rules

import (
	"errors"
	"fmt"
	"regexp"
)

// Domains a request can target.
const (
	DomainGeneral   = "general"
	DomainMedical   = "medical"
	DomainLegal     = "legal"
	DomainFinancial = "financial"
	DomainTechnical = "technical"
)

// Safety categories.
const (
	CategoryJailbreak = "jailbreak"
	CategoryInjection = "injection"
	CategoryHate      = "hate"
	CategorySexual    = "sexual"
	CategoryViolence  = "violence"
	CategorySelfHarm  = "self_harm"
)

// InputCategories are evaluated against prompts in L1.
var InputCategories = []string{CategoryJailbreak, CategoryInjection}

// ContentCategories are evaluated in L2 and L5.
var ContentCategories = []string{CategoryHate, CategorySexual, CategoryViolence, CategorySelfHarm}

var (
	ErrInvalidTOML  = errors.New("invalid rule pack")
	ErrInvalidRegex = errors.New("invalid rule pattern")
)

// Pack is the full rule set.
type Pack struct {
	Safety         SafetyRules     `toml:"safety"`
	Terminology    []TermRule      `toml:"terminology"`
	Compliance     ComplianceRules `toml:"compliance"`
	Claims         []ClaimRule     `toml:"claims"`
	Contradictions []PhrasePair    `toml:"contradictions"`
	Placeholders   []string        `toml:"placeholders"`
}

// SafetyRules are weighted phrase rules with per-category thresholds. A
// category fails when the summed weight of its hits exceeds its threshold.
type SafetyRules struct {
	Rules      []SafetyRule       `toml:"rules"`
	Thresholds map[string]float64 `toml:"thresholds"`
}

// SafetyRule matches case-insensitively.
type SafetyRule struct {
	ID       string  `toml:"id"`
	Category string  `toml:"category"`
	Pattern  string  `toml:"pattern"`
	Weight   float64 `toml:"weight"`
}

// TermRule flags a phrasing. An empty Domain applies to every domain.
type TermRule struct {
	ID       string `toml:"id"`
	Domain   string `toml:"domain"`
	Pattern  string `toml:"pattern"`
	Message  string `toml:"message"`
	Severity int    `toml:"severity"`
}

// Applies reports whether the rule is active for domain.
func (r TermRule) Applies(domain string) bool {
	return r.Domain == "" || r.Domain == domain
}

// ComplianceRules are the L7 prohibited phrasings and the disclaimers
// required per domain.
type ComplianceRules struct {
	Prohibited  []TermRule            `toml:"prohibited"`
	Disclaimers map[string]Disclaimer `toml:"disclaimers"`
}

// Disclaimer requires one of Patterns in any output for a domain.
type Disclaimer struct {
	Patterns []string `toml:"patterns"`
	Message  string   `toml:"message"`
	Severity int      `toml:"severity"`
}

// ClaimRule is a known-incorrect statement.
type ClaimRule struct {
	ID         string `toml:"id"`
	Domain     string `toml:"domain"`
	Pattern    string `toml:"pattern"`
	Correction string `toml:"correction"`
}

// Applies reports whether the claim is checked for domain.
func (r ClaimRule) Applies(domain string) bool {
	return r.Domain == "" || r.Domain == domain
}

// PhrasePair is two statements that cannot both hold in one response.
type PhrasePair struct {
	ID string `toml:"id"`
	A  string `toml:"a"`
	B  string `toml:"b"`
}

// Validate checks ids, categories, weights and that every pattern compiles.
func (p *Pack) Validate() error {
	seen := make(map[string]bool)
	unique := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: rule id is required", ErrInvalidTOML)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidTOML, id)
		}
		seen[id] = true
		return nil
	}

	for _, r := range p.Safety.Rules {
		if err := unique(r.ID); err != nil {
			return err
		}
		if _, ok := p.Safety.Thresholds[r.Category]; !ok {
			return fmt.Errorf("%w: rule %s: no threshold for category %q", ErrInvalidTOML, r.ID, r.Category)
		}
		if r.Weight <= 0 {
			return fmt.Errorf("%w: rule %s: weight must be positive", ErrInvalidTOML, r.ID)
		}
		if err := compile(r.ID, r.Pattern); err != nil {
			return err
		}
	}
	for cat, th := range p.Safety.Thresholds {
		if th <= 0 {
			return fmt.Errorf("%w: threshold for %q must be positive", ErrInvalidTOML, cat)
		}
	}

	terms := append(append([]TermRule(nil), p.Terminology...), p.Compliance.Prohibited...)
	for _, r := range terms {
		if err := unique(r.ID); err != nil {
			return err
		}
		if r.Severity < 1 || r.Severity > 10 {
			return fmt.Errorf("%w: rule %s: severity must be in [1,10]", ErrInvalidTOML, r.ID)
		}
		if err := compile(r.ID, r.Pattern); err != nil {
			return err
		}
	}

	for _, r := range p.Claims {
		if err := unique(r.ID); err != nil {
			return err
		}
		if err := compile(r.ID, r.Pattern); err != nil {
			return err
		}
	}

	for _, pair := range p.Contradictions {
		if err := unique(pair.ID); err != nil {
			return err
		}
		if err := compile(pair.ID, pair.A); err != nil {
			return err
		}
		if err := compile(pair.ID, pair.B); err != nil {
			return err
		}
	}

	for i, ph := range p.Placeholders {
		if err := compile(fmt.Sprintf("placeholders[%d]", i), ph); err != nil {
			return err
		}
	}

	for domain, d := range p.Compliance.Disclaimers {
		if len(d.Patterns) == 0 {
			return fmt.Errorf("%w: disclaimer %q has no patterns", ErrInvalidTOML, domain)
		}
		if d.Severity < 1 || d.Severity > 10 {
			return fmt.Errorf("%w: disclaimer %q: severity must be in [1,10]", ErrInvalidTOML, domain)
		}
		for _, pat := range d.Patterns {
			if err := compile("disclaimer."+domain, pat); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile compiles a pack pattern. Patterns are case-insensitive.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// MustCompile is Compile for patterns already checked by Validate.
func MustCompile(pattern string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + pattern)
}

func compile(id, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: %s: empty pattern", ErrInvalidRegex, id)
	}
	if _, err := Compile(pattern); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRegex, id, err)
	}
	return nil
}
