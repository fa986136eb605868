// Package htmlsanitize cleans user-supplied free text (claim and endorsement
// reasons) before it is stored.
package htmlsanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element and attribute.
var strict = bluemonday.StrictPolicy()

// PlainText strips all markup from s and returns plain text. The result is
// unescaped: renderers must escape it like any other text.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict.Sanitize(s))
	return strings.TrimSpace(cleaned)
}

// Reason returns PlainText(s) cut to at most maxRunes runes. maxRunes <= 0
// means no limit.
func Reason(s string, maxRunes int) string {
	out := PlainText(s)
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	r := []rune(out)
	return strings.TrimSpace(string(r[:maxRunes]))
}

// IsPlainText reports whether s contains no HTML tags.
func IsPlainText(s string) bool {
	return !strings.Contains(s, "<") || !strings.Contains(s, ">")
}
