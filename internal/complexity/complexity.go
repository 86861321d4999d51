// Package complexity classifies prompts into simple, moderate or complex
// and derives the worker budget, required guardrail layers and the
// sub-questions the completeness verifier checks against.
package complexity

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Class is a complexity class.
type Class string

const (
	Simple   Class = "simple"
	Moderate Class = "moderate"
	Complex  Class = "complex"
)

// Config holds classifier thresholds. Prompts strictly below both the char
// and word limits of a class fall into it.
type Config struct {
	SimpleMaxChars   int
	SimpleMaxWords   int
	SimpleBudget     int
	ModerateMaxChars int
	ModerateMaxWords int
	ModerateBudget   int
	ComplexBudget    int
	// GlobalCap bounds every budget; normally the worker pool size.
	GlobalCap      int
	RequiredLayers map[Class][]validation.LayerID
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	all := []validation.LayerID{
		validation.L1, validation.L2, validation.L3, validation.L4,
		validation.L5, validation.L6, validation.L7,
	}
	return Config{
		SimpleMaxChars:   50,
		SimpleMaxWords:   10,
		SimpleBudget:     8,
		ModerateMaxChars: 200,
		ModerateMaxWords: 50,
		ModerateBudget:   12,
		ComplexBudget:    25,
		GlobalCap:        500,
		RequiredLayers:   map[Class][]validation.LayerID{Simple: all, Moderate: all, Complex: all},
	}
}

// FromSettings maps the complexity section onto a Config capped at poolSize.
func FromSettings(s config.ComplexityConfig, poolSize int) Config {
	cfg := Config{
		SimpleMaxChars:   s.SimpleMaxChars,
		SimpleMaxWords:   s.SimpleMaxWords,
		SimpleBudget:     s.SimpleBudget,
		ModerateMaxChars: s.ModerateMaxChars,
		ModerateMaxWords: s.ModerateMaxWords,
		ModerateBudget:   s.ModerateBudget,
		ComplexBudget:    s.ComplexBudget,
		GlobalCap:        poolSize,
	}
	if len(s.RequiredLayers) > 0 {
		cfg.RequiredLayers = make(map[Class][]validation.LayerID, len(s.RequiredLayers))
		for class, layers := range s.RequiredLayers {
			ids := make([]validation.LayerID, len(layers))
			for i, l := range layers {
				ids[i] = validation.LayerID(l)
			}
			cfg.RequiredLayers[Class(class)] = ids
		}
	}
	return cfg
}

// Classification is the outcome of Classify.
type Classification struct {
	Class            Class                `json:"class"`
	WorkerBudget     int                  `json:"worker_budget"`
	RequiredLayers   []validation.LayerID `json:"required_layers"`
	PromptConfidence float64              `json:"prompt_confidence"`
	SubQuestions     []string             `json:"sub_questions,omitempty"`
	Characters       int                  `json:"characters"`
	Words            int                  `json:"words"`
	required         map[validation.LayerID]bool
}

// Requires reports whether layer id must run for this class.
func (c Classification) Requires(id validation.LayerID) bool {
	if c.required == nil {
		for _, l := range c.RequiredLayers {
			if l == id {
				return true
			}
		}
		return false
	}
	return c.required[id]
}

// Classifier is stateless after construction and safe for concurrent use.
type Classifier struct {
	cfg Config
}

// New creates a classifier. Zero thresholds fall back to defaults.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.SimpleMaxChars <= 0 {
		cfg.SimpleMaxChars = def.SimpleMaxChars
	}
	if cfg.SimpleMaxWords <= 0 {
		cfg.SimpleMaxWords = def.SimpleMaxWords
	}
	if cfg.SimpleBudget <= 0 {
		cfg.SimpleBudget = def.SimpleBudget
	}
	if cfg.ModerateMaxChars <= 0 {
		cfg.ModerateMaxChars = def.ModerateMaxChars
	}
	if cfg.ModerateMaxWords <= 0 {
		cfg.ModerateMaxWords = def.ModerateMaxWords
	}
	if cfg.ModerateBudget <= 0 {
		cfg.ModerateBudget = def.ModerateBudget
	}
	if cfg.ComplexBudget <= 0 {
		cfg.ComplexBudget = def.ComplexBudget
	}
	if cfg.GlobalCap <= 0 {
		cfg.GlobalCap = def.GlobalCap
	}
	if cfg.RequiredLayers == nil {
		cfg.RequiredLayers = def.RequiredLayers
	}
	return &Classifier{cfg: cfg}
}

// Classify maps prompt to a Classification. Deterministic.
func (c *Classifier) Classify(prompt string) Classification {
	chars := utf8.RuneCountInString(prompt)
	words := len(strings.Fields(prompt))

	var class Class
	var budget int
	switch {
	case chars < c.cfg.SimpleMaxChars && words < c.cfg.SimpleMaxWords:
		class, budget = Simple, c.cfg.SimpleBudget
	case chars < c.cfg.ModerateMaxChars && words < c.cfg.ModerateMaxWords:
		class, budget = Moderate, c.cfg.ModerateBudget
	default:
		class, budget = Complex, c.cfg.ComplexBudget
	}
	if budget > c.cfg.GlobalCap {
		budget = c.cfg.GlobalCap
	}

	layers := append([]validation.LayerID(nil), c.cfg.RequiredLayers[class]...)
	required := make(map[validation.LayerID]bool, len(layers))
	for _, l := range layers {
		required[l] = true
	}

	return Classification{
		Class:            class,
		WorkerBudget:     budget,
		RequiredLayers:   layers,
		PromptConfidence: promptConfidence(prompt),
		SubQuestions:     SubQuestions(prompt),
		Characters:       chars,
		Words:            words,
		required:         required,
	}
}

var vagueMarker = regexp.MustCompile(`(?i)\b(something|stuff|whatever|etc|somehow|thing)\b|\?\?`)

// promptConfidence is 0 for an empty prompt, otherwise 100 less 5 per vague
// marker, floored at 80.
func promptConfidence(prompt string) float64 {
	if strings.TrimSpace(prompt) == "" {
		return 0
	}
	p := 100 - 5*float64(len(vagueMarker.FindAllStringIndex(prompt, -1)))
	if p < 80 {
		p = 80
	}
	return p
}

var (
	directive   = regexp.MustCompile(`(?i)^(explain|describe|list|summarize|summarise|compare|define|outline|discuss|identify|provide|include)\b`)
	listItem    = regexp.MustCompile(`^(\d+[.)]|[-*•])\s+`)
	sentenceEnd = regexp.MustCompile(`[.?!]+\s+`)
)

// SubQuestions extracts the requirements a complete answer must cover:
// questions, directive sentences and list items. Each line is split into
// sentences first, so a paragraph of instructions yields one requirement
// per directive. Without any, the first sentence of a non-empty prompt is
// the single requirement.
func SubQuestions(prompt string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	var first string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := listItem.FindStringIndex(line); m != nil {
			add(line[m[1]:])
			continue
		}
		for _, s := range sentences(line) {
			if first == "" {
				first = s
			}
			if directive.MatchString(s) || strings.HasSuffix(s, "?") {
				add(s)
			}
		}
	}

	if len(out) == 0 && first != "" {
		add(first)
	}
	return out
}

// sentences splits line after each run of terminal punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func sentences(line string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(line, -1) {
		if s := strings.TrimSpace(line[start:m[1]]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(line[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
