package phi

// Category is one of the 18 HIPAA identifier categories.
type Category string

const (
	Name       Category = "name"
	Address    Category = "address"
	Date       Category = "date"
	Phone      Category = "phone"
	Fax        Category = "fax"
	Email      Category = "email"
	SSN        Category = "ssn"
	MRN        Category = "mrn"
	HealthPlan Category = "health_plan"
	Account    Category = "account"
	License    Category = "license"
	Vehicle    Category = "vehicle"
	Device     Category = "device"
	URL        Category = "url"
	IP         Category = "ip"
	Biometric  Category = "biometric"
	Photo      Category = "photo"
	OtherID    Category = "id"
)

var tokens = map[Category]string{
	Name:       "[NAME]",
	Address:    "[ADDRESS]",
	Date:       "[DATE]",
	Phone:      "[PHONE]",
	Fax:        "[FAX]",
	Email:      "[EMAIL]",
	SSN:        "[SSN]",
	MRN:        "[MRN]",
	HealthPlan: "[HEALTH_PLAN]",
	Account:    "[ACCOUNT]",
	License:    "[LICENSE]",
	Vehicle:    "[VEHICLE]",
	Device:     "[DEVICE]",
	URL:        "[URL]",
	IP:         "[IP]",
	Biometric:  "[BIOMETRIC]",
	Photo:      "[PHOTO]",
	OtherID:    "[ID]",
}

// Known reports whether c is a recognized category.
func (c Category) Known() bool {
	_, ok := tokens[c]
	return ok
}

// Token is the redaction placeholder for c.
func (c Category) Token() string {
	if t, ok := tokens[c]; ok {
		return t
	}
	return "[ID]"
}
