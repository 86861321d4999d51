// Package secrets finds credentials in text with the gitleaks rule set.
//
// The detector backs the output compliance layer, which fails any response
// carrying a credential, and the iteration log sanitizer, which replaces
// credentials with [REDACTED:<rule-id>] markers before anything is persisted.
package secrets
