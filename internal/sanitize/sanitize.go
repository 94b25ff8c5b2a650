// Package sanitize cleans user supplied strings before they are stored or
// echoed back.
package sanitize

import (
	"strings"
	"unicode/utf8"
)

// MaxSearchQueryLen caps the length of a search query in runes.
const MaxSearchQueryLen = 64

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// HTML entity-escapes the five characters that are special in HTML text and
// attribute values.
func HTML(s string) string {
	return htmlReplacer.Replace(s)
}

// Username keeps ASCII letters, digits, underscore and hyphen, dropping
// everything else.
func Username(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SearchQuery trims s, removes the LIKE wildcard '%', backslashes and control
// characters and caps the result at MaxSearchQueryLen runes. '_' is kept
// because usernames contain it; as a single-character wildcard it still
// matches itself.
func SearchQuery(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if n == MaxSearchQueryLen {
			break
		}
		if r == '%' || r == '\\' || r < 0x20 || r == 0x7f || r == utf8.RuneError {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
