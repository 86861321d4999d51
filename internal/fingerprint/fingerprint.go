// Package fingerprint derives stable request keys from a prompt and its
// effective configuration. The digest is for idempotent logging keys, not
// for security.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes ultrathink fingerprints inside the UUIDv5 space.
var namespace = uuid.MustParse("6f1c3f55-0e9b-4c8e-9a51-5c4b8a7d2e10")

// Fingerprint is a 128-bit digest.
type Fingerprint [16]byte

// String returns 32 lowercase hex characters.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for log lines.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Normalize collapses runs of Unicode whitespace to a single space and trims
// both ends.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// Compute fingerprints prompt and cfg. cfg is encoded as JSON, so map keys
// are sorted and the result is stable for equal values. A cfg that cannot be
// encoded contributes nothing.
func Compute(prompt string, cfg any) Fingerprint {
	var b strings.Builder
	b.WriteString(Normalize(prompt))
	b.WriteByte(0)
	if cfg != nil {
		if enc, err := json.Marshal(cfg); err == nil {
			b.Write(enc)
		}
	}
	return Fingerprint(uuid.NewSHA1(namespace, []byte(b.String())))
}
