// Package normalize cleans raw request values before validation.
package normalize

import "strings"

// Email trims and lower-cases an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Enum trims and lower-cases a keyword such as a claim type or vote type.
func Enum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Token trims surrounding whitespace from a pasted secret. Case is kept.
func Token(s string) string {
	return strings.TrimSpace(s)
}

// ObjectID trims an id path or query value.
func ObjectID(s string) string {
	return strings.TrimSpace(s)
}
