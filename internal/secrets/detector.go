package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected credential. Secret is kept unexported so findings
// can be logged and returned without leaking the value. Line is 1-based.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int

	secret string
}

// Detector wraps the gitleaks default configuration (800+ rules). The
// configuration is parsed once; each call scans with a fresh gitleaks
// detector because gitleaks accumulates findings internally.
type Detector struct {
	config gitleaksConfig.Config
}

// New loads the default gitleaks rules. allow holds content regexes that
// are never reported, e.g. documented example keys.
func New(allow ...string) (*Detector, error) {
	base, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	cfg := base.Config

	if len(allow) > 0 {
		list := &gitleaksConfig.Allowlist{Description: "ultrathink allow list"}
		for _, pattern := range allow {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("allow list pattern %q: %w", pattern, err)
			}
			list.Regexes = append(list.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		cfg.Allowlists = append(cfg.Allowlists, list)
	}

	return &Detector{config: cfg}, nil
}

// Detect returns the credentials in content.
func (d *Detector) Detect(content string) []Finding {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	found := detect.NewDetector(d.config).DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine + 1,
			secret:   f.Secret,
		})
	}
	return out
}

// Contains reports whether content carries at least one credential.
func (d *Detector) Contains(content string) bool {
	return len(d.Detect(content)) > 0
}

// RuleIDs returns the sorted, unique rule ids of findings.
func RuleIDs(findings []Finding) []string {
	set := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		set[f.RuleID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Redact replaces every credential with [REDACTED:<rule-id>].
func (d *Detector) Redact(content string) string {
	findings := d.Detect(content)
	if len(findings) == 0 {
		return content
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].secret) > len(findings[j].secret)
	})
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.secret, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}
