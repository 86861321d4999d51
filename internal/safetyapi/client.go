// Package safetyapi is the contract for remote content-safety services and
// its implementations.
//
// Calls never return Go errors. When a service cannot be reached after the
// configured retries the result carries Unavailable=true and the reason in
// Err; the guardrail layers decide how to treat that.
package safetyapi

import "context"

// Content categories reported by ClassifyText.
const (
	CategoryHate     = "hate"
	CategorySexual   = "sexual"
	CategoryViolence = "violence"
	CategorySelfHarm = "self_harm"
)

// MaxCategorySeverity is the top of the normalized 0-3 scale.
const MaxCategorySeverity = 3

// TextClassification holds per-category severities on a 0-3 scale.
type TextClassification struct {
	Categories  map[string]int `json:"categories"`
	Unavailable bool           `json:"unavailable,omitempty"`
	Err         string         `json:"error,omitempty"`
}

// Max returns the worst category and its severity.
func (c TextClassification) Max() (string, int) {
	var (
		cat string
		sev int
	)
	for k, v := range c.Categories {
		if v > sev || (v == sev && sev > 0 && k < cat) {
			cat, sev = k, v
		}
	}
	return cat, sev
}

// ShieldResult reports prompt-attack detection for the prompt and each
// supporting document.
type ShieldResult struct {
	AttackDetected  bool   `json:"attack_detected"`
	DocumentAttacks []bool `json:"document_attacks,omitempty"`
	Unavailable     bool   `json:"unavailable,omitempty"`
	Err             string `json:"error,omitempty"`
}

// Any reports whether the prompt or any document carries an attack.
func (s ShieldResult) Any() bool {
	if s.AttackDetected {
		return true
	}
	for _, d := range s.DocumentAttacks {
		if d {
			return true
		}
	}
	return false
}

// GroundednessRequest is the input to CheckGroundedness.
type GroundednessRequest struct {
	Output  string
	Sources []string
	Query   string
	Domain  string
}

// GroundednessResult reports the share of the output not supported by the
// sources, in [0, 1].
type GroundednessResult struct {
	UngroundedFraction float64 `json:"ungrounded_fraction"`
	Unavailable        bool    `json:"unavailable,omitempty"`
	Err                string  `json:"error,omitempty"`
}

// ContentClassifier scores text per harm category.
type ContentClassifier interface {
	ClassifyText(ctx context.Context, text string) TextClassification
}

// PromptShield detects jailbreak and indirect injection attacks.
type PromptShield interface {
	CheckPromptShield(ctx context.Context, prompt string, docs []string) ShieldResult
}

// GroundednessChecker measures how well output is supported by sources.
type GroundednessChecker interface {
	CheckGroundedness(ctx context.Context, req GroundednessRequest) GroundednessResult
}

// Client is the full remote service contract.
type Client interface {
	ContentClassifier
	PromptShield
	GroundednessChecker
}
