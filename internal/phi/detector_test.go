package phi

import (
	"testing"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientNote = "Patient John Smith, DOB 05/15/1965, MRN 123456, has chest pain."

func TestScan_PatientNote(t *testing.T) {
	d := MustNew(nil)

	r := d.Scan(patientNote)

	assert.Equal(t, validation.L3, r.Layer)
	assert.False(t, r.Passed)
	assert.Equal(t, 5, r.Severity)
	assert.Equal(t, 3, r.Details["pattern_hits"])
	assert.Equal(t, 2, r.Details["context_hits"])
	assert.Equal(t, map[string]int{"name": 1, "date": 1, "mrn": 1}, r.Details["categories"])
	assert.Contains(t, r.RuleIDs, "phi.context")
	assert.Contains(t, r.RuleIDs, "phi.mrn-labeled")

	samples := r.Details["samples"].(map[string][]string)
	assert.Equal(t, []string{"****56"}, samples["mrn"])
	for _, ss := range samples {
		for _, s := range ss {
			assert.NotContains(t, s, "John")
			assert.NotContains(t, s, "123456")
		}
	}
}

func TestScan_Clean(t *testing.T) {
	d := MustNew(nil)

	for _, text := range []string{"", "   ", "What is 2+2?", "Explain how insulin regulates blood glucose."} {
		r := d.Scan(text)
		assert.True(t, r.Passed, text)
		assert.Equal(t, 0, r.Severity, text)
	}
}

func TestScan_Idempotent(t *testing.T) {
	d := MustNew(nil)

	first := d.Scan(patientNote)
	second := d.Scan(patientNote)

	assert.Equal(t, first.Details["categories"], second.Details["categories"])
	assert.Equal(t, first.Details["pattern_hits"], second.Details["pattern_hits"])
	assert.Equal(t, first.Severity, second.Severity)
	assert.Equal(t, first.RuleIDs, second.RuleIDs)
}

func TestScan_SeverityCapped(t *testing.T) {
	d := MustNew(nil)
	text := "Reach me at a@example.com, b@example.com, c@example.com, d@example.com, " +
		"e@example.com, f@example.com, g@example.com, h@example.com, i@example.com, " +
		"j@example.com, k@example.com, l@example.com."

	r := d.Scan(text)
	assert.False(t, r.Passed)
	assert.Equal(t, validation.MaxSeverity, r.Severity)
	samples := r.Details["samples"].(map[string][]string)
	assert.Len(t, samples["email"], maxSamplesPerCategory)
}

func TestScan_FaxTakesPrecedenceOverPhone(t *testing.T) {
	d := MustNew(nil)

	r := d.Scan("Send records to Fax: 555-867-5309 today")
	assert.False(t, r.Passed)
	assert.Equal(t, map[string]int{"fax": 1}, r.Details["categories"])
	assert.Equal(t, 1, r.Details["pattern_hits"])
}

func TestScan_Categories(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category string
	}{
		{"email", "write to jane.doe@example.org", "email"},
		{"ssn", "her number is 123-45-6789", "ssn"},
		{"iso date", "admitted 2023-04-01 overnight", "date"},
		{"month date", "seen on March 3, 2021", "date"},
		{"url", "portal at https://clinic.example.com/records/77", "url"},
		{"ip", "logged in from 10.0.12.7", "ip"},
		{"street", "lives at 42 Elm Street", "address"},
		{"state zip", "Springfield IL 62704", "address"},
		{"vin", "vin 1HGCM82633A004352", "vehicle"},
		{"claim", "claim number CLM-4455667", "id"},
		{"photo", "photo: jd_front.jpg attached", "photo"},
	}

	d := MustNew(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.Scan(tt.text)
			require.False(t, r.Passed)
			assert.Contains(t, r.Details["categories"], tt.category)
		})
	}
}

func TestRedact_PatientNote(t *testing.T) {
	d := MustNew(nil)

	red := d.Redact(patientNote)

	assert.Equal(t, "Patient [NAME], DOB [DATE], MRN [MRN], has chest pain.", red.Text)
	assert.Equal(t, 3, red.Spans)
	assert.NotContains(t, red.Text, "123456")
	assert.NotContains(t, red.Text, "John Smith")
	assert.True(t, d.Scan(red.Text).Passed, "redacted text must not contain PHI")
}

func TestRedact_ContextDigits(t *testing.T) {
	d := MustNew(nil)

	red := d.Redact("member id on file, acct ref 884213")

	assert.NotContains(t, red.Text, "884213")
	assert.True(t, d.Scan(red.Text).Passed)
}

func TestRedact_Idempotent(t *testing.T) {
	d := MustNew(nil)

	once := d.RedactString(patientNote)
	assert.Equal(t, once, d.RedactString(once))
}

func TestAllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowList = []string{`^555-\d{3}-\d{4}$`}
	d, err := New(cfg)
	require.NoError(t, err)

	assert.True(t, d.Scan("call 555-123-4567 for the demo line").Passed)
	assert.False(t, d.Scan("call 212-123-4567 for the clinic").Passed)
}

func TestFromSettings_ExtraRules(t *testing.T) {
	cfg := FromSettings(config.PHIConfig{
		ExtraRules: []config.PHIRule{{ID: "employee-badge", Category: "id", Pattern: `EMP-\d{5}`}},
	})
	d, err := New(cfg)
	require.NoError(t, err)

	r := d.Scan("badge EMP-12345 scanned")
	assert.False(t, r.Passed)
	assert.Equal(t, 1, r.Severity)
	assert.Equal(t, []string{"phi.employee-badge"}, r.RuleIDs)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		rules  []Rule
		errMsg string
	}{
		{"missing id", []Rule{{Category: Name, Pattern: "x"}}, "ID is required"},
		{"duplicate id", []Rule{{ID: "a", Category: Name, Pattern: "x"}, {ID: "a", Category: Name, Pattern: "y"}}, "duplicate"},
		{"unknown category", []Rule{{ID: "a", Category: "shoe-size", Pattern: "x"}}, "unknown category"},
		{"bad pattern", []Rule{{ID: "a", Category: Name, Pattern: "(unclosed"}}, "invalid pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Rules = tt.rules
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.AllowList = []string{"("}
	_, err := New(cfg)
	assert.ErrorContains(t, err, "allow_list")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****56", Mask("123456"))
	assert.Equal(t, "**** ***th", Mask("John Smith"))
	assert.Equal(t, "**/**", Mask("05/15"))
	assert.Equal(t, "", Mask(""))
}

func TestCategoryTokens(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultRules() {
		assert.True(t, r.Category.Known(), r.ID)
		seen[string(r.Category)] = true
	}
	assert.Len(t, seen, 18, "every HIPAA category has a rule")
	assert.Equal(t, "[ID]", Category("nope").Token())
}
