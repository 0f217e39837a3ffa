// Package textnorm cleans raw message text into the token stream the term
// vectorizer and the lexical features were fitted on.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Cleaning steps, applied in this order.
var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	entityPattern     = regexp.MustCompile(`(?i)&[a-z0-9#]+;`)
	obfuscationMarker = regexp.MustCompile(`\b(x{3,}|\.{3,}|-{3,})\b`)
	urlPattern        = regexp.MustCompile(`(?i)https?://\S+`)
	emailPattern      = regexp.MustCompile(`\S+@\S+`)
	digitPattern      = regexp.MustCompile(`[0-9]+`)
	punctPattern      = regexp.MustCompile("[!\"#$%&'()*+,\\-./:;<=>?@\\[\\\\\\]^_`{|}~]")
)

// maxPasses bounds the fixed-point loop. Each pass can only shrink the
// text, so real input settles in two or three.
const maxPasses = 8

// Normalize lowercases s, strips markup, entities, obfuscation runs, URLs,
// e-mail addresses, digits and punctuation, drops tokens of two runes or
// fewer and collapses whitespace.
//
// A single pass can expose new matches (stripping a digit can leave a bare
// "xxx" run), so the pass is repeated until the output stops changing. This
// makes Normalize idempotent.
func Normalize(s string) string {
	out := pass(s)
	for i := 1; i < maxPasses; i++ {
		next := pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// NormalizeValue is Normalize for loosely typed input. Anything that is not
// a string normalizes to the empty string.
func NormalizeValue(v any) string {
	switch s := v.(type) {
	case string:
		return Normalize(s)
	case *string:
		if s != nil {
			return Normalize(*s)
		}
	}
	return ""
}

func pass(s string) string {
	s = strings.ToLower(s)
	s = tagPattern.ReplaceAllString(s, " ")
	s = entityPattern.ReplaceAllString(s, " ")
	s = obfuscationMarker.ReplaceAllString(s, " ")
	s = urlPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "")
	s = digitPattern.ReplaceAllString(s, "")
	s = punctPattern.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// Tokens splits normalized text on whitespace.
func Tokens(cleaned string) []string {
	return strings.Fields(cleaned)
}
