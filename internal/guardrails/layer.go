package guardrails

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ultrathink/internal/phi"
	"github.com/fyrsmithlabs/ultrathink/internal/rules"
	"github.com/fyrsmithlabs/ultrathink/internal/safety"
	"github.com/fyrsmithlabs/ultrathink/internal/safetyapi"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

// Payload is what a layer inspects. Output and Sources are empty in input
// mode.
type Payload struct {
	Prompt   string
	Output   string
	Sources  []string
	Domain   string
	Audience string
}

// Layer is one guardrail check. Check must be deterministic for the same
// payload apart from remote service calls.
type Layer interface {
	ID() validation.LayerID
	Blocking() bool
	Check(ctx context.Context, p Payload) validation.Result
}

const (
	unavailableSeverity = 8
	attackSeverity      = 9
	credentialSeverity  = 9
)

// promptShield is L1: jailbreak and injection patterns plus the optional
// remote prompt shield.
type promptShield struct {
	engine       *safety.Engine
	shield       safetyapi.PromptShield
	degradedMode bool
}

func (l *promptShield) ID() validation.LayerID { return validation.L1 }
func (l *promptShield) Blocking() bool         { return true }

func (l *promptShield) Check(ctx context.Context, p Payload) validation.Result {
	local := l.engine.Scan(p.Prompt, safety.ModeInput)
	if l.shield == nil {
		return local
	}

	res := l.shield.CheckPromptShield(ctx, p.Prompt, p.Sources)
	var remote validation.Result
	switch {
	case res.Unavailable:
		remote = l.unavailable(validation.L1, "prompt shield", res.Err)
	case res.Any():
		remote = validation.Fail(validation.L1, attackSeverity, "prompt shield detected an attack",
			map[string]any{"attack_detected": res.AttackDetected, "document_attacks": res.DocumentAttacks},
			"shield.attack")
	default:
		remote = validation.Pass(validation.L1, 0, "prompt shield clean", nil)
	}
	return combine(validation.L1, local, remote)
}

func (l *promptShield) unavailable(id validation.LayerID, what, reason string) validation.Result {
	details := map[string]any{"service_unavailable": what, "reason": reason}
	if l.degradedMode {
		return validation.Warn(id, what+" unavailable (degraded mode)", details)
	}
	return validation.Fail(id, unavailableSeverity, what+" unavailable", details, "service.unavailable")
}

// contentSafety is L2 (prompt) or L5 (output): harmful-content patterns plus
// the optional remote classifier.
type contentSafety struct {
	mode         safety.Mode
	engine       *safety.Engine
	classifier   safetyapi.ContentClassifier
	threshold    int
	degradedMode bool
}

func (l *contentSafety) ID() validation.LayerID { return l.mode.Layer() }
func (l *contentSafety) Blocking() bool         { return true }

func (l *contentSafety) Check(ctx context.Context, p Payload) validation.Result {
	id := l.ID()
	text := p.Prompt
	if l.mode == safety.ModeOutputContent {
		text = p.Output
	}

	local := l.engine.Scan(text, l.mode)
	if l.classifier == nil {
		return local
	}

	res := l.classifier.ClassifyText(ctx, text)
	var remote validation.Result
	if res.Unavailable {
		details := map[string]any{"service_unavailable": "content classifier", "reason": res.Err}
		if l.degradedMode {
			remote = validation.Warn(id, "content classifier unavailable (degraded mode)", details)
		} else {
			remote = validation.Fail(id, unavailableSeverity, "content classifier unavailable", details, "service.unavailable")
		}
		return combine(id, local, remote)
	}

	cat, sev := res.Max()
	details := map[string]any{"service_categories": res.Categories}
	switch {
	case sev >= l.threshold:
		remote = validation.Fail(id, 4+2*sev, fmt.Sprintf("content classifier flagged %s (severity %d)", cat, sev),
			details, "classifier."+cat)
	case sev > 0:
		remote = validation.Pass(id, 1, "content classifier below threshold", details)
	default:
		remote = validation.Pass(id, 0, "content classifier clean", details)
	}
	return combine(id, local, remote)
}

// phiLayer is L3.
type phiLayer struct {
	detector *phi.Detector
}

func (l *phiLayer) ID() validation.LayerID { return validation.L3 }
func (l *phiLayer) Blocking() bool         { return true }

func (l *phiLayer) Check(_ context.Context, p Payload) validation.Result {
	return l.detector.Scan(p.Prompt)
}

type compiledTerm struct {
	rules.TermRule
	re *regexp.Regexp
}

func compileTerms(in []rules.TermRule) []compiledTerm {
	out := make([]compiledTerm, 0, len(in))
	for _, r := range in {
		out = append(out, compiledTerm{TermRule: r, re: rules.MustCompile(r.Pattern)})
	}
	return out
}

type hit struct {
	id       string
	message  string
	severity int
}

// scoreHits gives the worst severity plus one per additional hit.
func scoreHits(id validation.LayerID, hits []hit, passMsg string) validation.Result {
	if len(hits) == 0 {
		return validation.Pass(id, 0, passMsg, nil)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].severity > hits[j].severity })

	severity := hits[0].severity + len(hits) - 1
	ids := make([]string, 0, len(hits))
	msgs := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.id)
		msgs = append(msgs, h.message)
	}
	details := map[string]any{"hits": len(hits), "messages": msgs}
	if severity <= validation.Threshold(id) {
		details["rule_ids"] = ids
		return validation.Pass(id, severity, "minor findings: "+strings.Join(msgs, "; "), details)
	}
	return validation.Fail(id, severity, strings.Join(msgs, "; "), details, ids...)
}

// terminology is L4.
type terminology struct {
	terms []compiledTerm
}

func (l *terminology) ID() validation.LayerID { return validation.L4 }
func (l *terminology) Blocking() bool         { return true }

func (l *terminology) Check(_ context.Context, p Payload) validation.Result {
	var hits []hit
	for _, t := range l.terms {
		if t.Applies(p.Domain) && t.re.MatchString(p.Output) {
			hits = append(hits, hit{id: t.ID, message: t.Message, severity: t.Severity})
		}
	}
	return scoreHits(validation.L4, hits, "terminology acceptable")
}

// groundedness is L6.
type groundedness struct {
	checker       safetyapi.GroundednessChecker
	maxUngrounded float64
}

func (l *groundedness) ID() validation.LayerID { return validation.L6 }
func (l *groundedness) Blocking() bool         { return true }

func (l *groundedness) Check(ctx context.Context, p Payload) validation.Result {
	if len(p.Sources) == 0 {
		return validation.Warn(validation.L6, "no source documents; groundedness not assessed",
			map[string]any{"sources": 0})
	}

	res := l.checker.CheckGroundedness(ctx, safetyapi.GroundednessRequest{
		Output:  p.Output,
		Sources: p.Sources,
		Query:   p.Prompt,
		Domain:  p.Domain,
	})
	if res.Unavailable {
		return validation.Warn(validation.L6, "groundedness service unavailable",
			map[string]any{"service_unavailable": "groundedness", "reason": res.Err})
	}

	details := map[string]any{"ungrounded_fraction": res.UngroundedFraction, "sources": len(p.Sources)}
	severity := int(math.Round(res.UngroundedFraction * 10))
	if res.UngroundedFraction <= l.maxUngrounded {
		return validation.Pass(validation.L6, severity, "output grounded in sources", details)
	}
	if severity <= validation.Threshold(validation.L6) {
		severity = validation.Threshold(validation.L6) + 1
	}
	return validation.Fail(validation.L6, severity,
		fmt.Sprintf("%.0f%% of output not supported by sources", res.UngroundedFraction*100),
		details, "groundedness.ungrounded")
}

type compiledDisclaimer struct {
	rules.Disclaimer
	patterns []*regexp.Regexp
}

// compliance is L7: prohibited phrasings, required disclaimers and leaked
// credentials.
type compliance struct {
	prohibited  []compiledTerm
	disclaimers map[string]compiledDisclaimer
	secrets     *secrets.Detector
}

func (l *compliance) ID() validation.LayerID { return validation.L7 }
func (l *compliance) Blocking() bool         { return true }

func (l *compliance) Check(_ context.Context, p Payload) validation.Result {
	var hits []hit
	for _, t := range l.prohibited {
		if t.Applies(p.Domain) && t.re.MatchString(p.Output) {
			hits = append(hits, hit{id: t.ID, message: t.Message, severity: t.Severity})
		}
	}

	if d, ok := l.disclaimers[p.Domain]; ok && strings.TrimSpace(p.Output) != "" {
		found := false
		for _, re := range d.patterns {
			if re.MatchString(p.Output) {
				found = true
				break
			}
		}
		if !found {
			hits = append(hits, hit{id: "disclaimer." + p.Domain, message: d.Message, severity: d.Severity})
		}
	}

	if l.secrets != nil {
		for _, id := range secrets.RuleIDs(l.secrets.Detect(p.Output)) {
			hits = append(hits, hit{id: "secret." + id, message: "credential in output", severity: credentialSeverity})
		}
	}

	return scoreHits(validation.L7, hits, "compliant")
}

// combine merges a local and a remote result for the same layer. Any
// failure fails the layer at the worst failing severity.
func combine(id validation.LayerID, parts ...validation.Result) validation.Result {
	details := make(map[string]any)
	var (
		failed   bool
		severity int
		msgs     []string
		ruleIDs  []string
	)
	for _, r := range parts {
		for k, v := range r.Details {
			if _, ok := details[k]; !ok {
				details[k] = v
			}
		}
		if !r.Passed {
			if !failed || r.Severity > severity {
				severity = r.Severity
			}
			failed = true
			msgs = append(msgs, r.Message)
			ruleIDs = append(ruleIDs, r.RuleIDs...)
		} else if !failed && r.Severity > severity {
			severity = r.Severity
		}
	}
	if len(details) == 0 {
		details = nil
	}
	if failed {
		return validation.Fail(id, severity, strings.Join(msgs, "; "), details, ruleIDs...)
	}
	msg := parts[0].Message
	if severity > 0 {
		for _, r := range parts {
			if r.Severity == severity {
				msg = r.Message
				break
			}
		}
	}
	return validation.Pass(id, severity, msg, details)
}
