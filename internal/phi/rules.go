package phi

// DefaultRules returns patterns for the 18 HIPAA identifier categories.
// Order matters: the more specific rule of two overlapping matches comes
// first (fax before phone, SSN before generic ids).
func DefaultRules() []Rule {
	return []Rule{
		// Names only count with a title or label in front; a bare capitalized
		// word is too ambiguous.
		{
			ID:       "name-labeled",
			Category: Name,
			Pattern:  `\b(?i:patient|pt\.?|mr\.?|mrs\.?|ms\.|dr\.?|name)[:\s]+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){0,2})`,
		},

		{
			ID:       "street-address",
			Category: Address,
			Pattern:  `\b\d{1,5}\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Court|Ct|Way|Place|Pl)\b\.?`,
		},
		{
			ID:       "state-zip",
			Category: Address,
			Pattern:  `\b(?:` + stateCodes + `)\s+\d{5}(?:-\d{4})?\b`,
		},

		{
			ID:       "date-numeric",
			Category: Date,
			Pattern:  `\b\d{1,2}/\d{1,2}/\d{2,4}\b`,
		},
		{
			ID:       "date-iso",
			Category: Date,
			Pattern:  `\b\d{4}-\d{2}-\d{2}\b`,
		},
		{
			ID:       "date-month-name",
			Category: Date,
			Pattern:  `\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`,
		},

		{
			ID:       "fax-number",
			Category: Fax,
			Pattern:  `(?i:fax)[:#\s]*((?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]\d{4})\b`,
			Keywords: []string{"fax"},
		},
		{
			ID:       "phone-number",
			Category: Phone,
			Pattern:  `(?:\+?1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`,
		},

		{
			ID:       "email-address",
			Category: Email,
			Pattern:  `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Keywords: []string{"@"},
		},

		{
			ID:       "ssn-formatted",
			Category: SSN,
			Pattern:  `\b\d{3}-\d{2}-\d{4}\b`,
		},
		{
			ID:       "ssn-labeled",
			Category: SSN,
			Pattern:  `(?i:ssn|social security(?: number| no\.?)?)[:#\s]*(\d{9})\b`,
			Keywords: []string{"ssn", "social security"},
		},

		{
			ID:       "mrn-labeled",
			Category: MRN,
			Pattern:  `(?i:mrn|medical record(?: number| no\.?| #)?)[:#\s]*([A-Z]{0,3}\d{4,10})\b`,
			Keywords: []string{"mrn", "medical record"},
		},

		{
			ID:       "health-plan-id",
			Category: HealthPlan,
			Pattern:  `(?i:health plan|member|beneficiary|insurance|policy)(?i: id| number| no\.?| #)?[:#\s]+([A-Z]{0,4}\d{5,12})\b`,
			Keywords: []string{"health plan", "member", "beneficiary", "insurance", "policy"},
		},

		{
			ID:       "account-number",
			Category: Account,
			Pattern:  `(?i:account|acct)(?i: number| no\.?| #)?[:#\s]+(\d{6,17})\b`,
			Keywords: []string{"account", "acct"},
		},

		{
			ID:       "license-number",
			Category: License,
			Pattern:  `(?i:license|licence|certificate|dea|npi)(?i: number| no\.?| #)?[:#\s]+([A-Z]{0,2}\d{5,10})\b`,
			Keywords: []string{"license", "licence", "certificate", "dea", "npi"},
		},

		{
			ID:       "vehicle-vin",
			Category: Vehicle,
			Pattern:  `(?i:vin)[:#\s]*([A-HJ-NPR-Z0-9]{17})\b`,
			Keywords: []string{"vin"},
		},
		{
			ID:       "vehicle-plate",
			Category: Vehicle,
			Pattern:  `(?i:license plate|plate)(?i: number| no\.?| #)?[:#\s]+([A-Z0-9]{2,4}[- ]?[A-Z0-9]{2,4})\b`,
			Keywords: []string{"plate"},
		},

		{
			ID:       "device-serial",
			Category: Device,
			Pattern:  `(?i:serial(?: number| no\.?)?|device id|udi|implant id)[:#\s]+([A-Z0-9][A-Z0-9-]{5,19})\b`,
			Keywords: []string{"serial", "device", "udi", "implant"},
		},

		{
			ID:       "url",
			Category: URL,
			Pattern:  `\bhttps?://[^\s<>"']+`,
			Keywords: []string{"http"},
		},

		{
			ID:       "ipv4-address",
			Category: IP,
			Pattern:  `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
		},

		{
			ID:       "biometric-id",
			Category: Biometric,
			Pattern:  `(?i:fingerprint|retina scan|iris scan|voiceprint|dna)(?i: id| sample| record)?[:#\s]+([A-Z0-9][A-Z0-9-]{5,})\b`,
			Keywords: []string{"fingerprint", "retina", "iris", "voiceprint", "dna"},
		},

		{
			ID:       "photo-file",
			Category: Photo,
			Pattern:  `(?i:photo|image|picture)(?i: id| file)?[:#\s]+([\w-]+\.(?i:jpe?g|png|heic|tiff?))\b`,
			Keywords: []string{"photo", "image", "picture"},
		},

		{
			ID:       "record-id",
			Category: OtherID,
			Pattern:  `(?i:patient id|(?:case|claim|encounter|visit)(?: id| number| no\.?| #))[:#\s]*([A-Z]{0,4}-?\d{4,12})\b`,
			Keywords: []string{"patient id", "case", "claim", "encounter", "visit"},
		},
	}
}

const stateCodes = `AL|AK|AZ|AR|CA|CO|CT|DE|DC|FL|GA|HI|ID|IL|IN|IA|KS|KY|LA|ME|MD|MA|MI|MN|MS|MO|MT|NE|NV|NH|NJ|NM|NY|NC|ND|OH|OK|OR|PA|RI|SC|SD|TN|TX|UT|VT|VA|WA|WV|WI|WY|PR`
