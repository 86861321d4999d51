package iterlog

import (
	"github.com/fyrsmithlabs/ultrathink/internal/phi"
	"github.com/fyrsmithlabs/ultrathink/internal/secrets"
)

// Sanitizer strips sensitive content from captured text.
type Sanitizer interface {
	Sanitize(text string) string
}

// Redactor removes credentials (gitleaks) and then PHI. Either detector may
// be nil.
type Redactor struct {
	phi     *phi.Detector
	secrets *secrets.Detector
}

// NewRedactor returns a Redactor over the given detectors.
func NewRedactor(p *phi.Detector, s *secrets.Detector) *Redactor {
	return &Redactor{phi: p, secrets: s}
}

// Sanitize implements Sanitizer.
func (r *Redactor) Sanitize(text string) string {
	if text == "" {
		return text
	}
	if r.secrets != nil {
		text = r.secrets.Redact(text)
	}
	if r.phi != nil {
		text = r.phi.RedactString(text)
	}
	return text
}

var _ Sanitizer = (*Redactor)(nil)
