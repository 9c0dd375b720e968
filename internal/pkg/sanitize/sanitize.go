/*
Package sanitize strips markup from user-supplied text before it is stored.

Chat messages, display names, pronouns and report reasons are plain text; any HTML in
them is removed so that snapshot consumers can render them without escaping concerns.
*/
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameRunes bounds display names after sanitising.
const MaxDisplayNameRunes = 32

var strict = bluemonday.StrictPolicy()

// Text removes all markup from s and trims surrounding whitespace.
// bluemonday re-escapes entities, so the result is unescaped once more to keep plain text.
func Text(s string) string {
	if s == "" {
		return ""
	}
	cleaned := strict.Sanitize(html.UnescapeString(s))
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// DisplayName sanitises a display name and truncates it to MaxDisplayNameRunes.
// An empty result means the input had no usable characters.
func DisplayName(s string) string {
	name := Text(s)
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		name = string([]rune(name)[:MaxDisplayNameRunes])
	}
	return strings.TrimSpace(name)
}
