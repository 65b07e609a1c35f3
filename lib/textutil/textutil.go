package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize lower-cases a cell or header value and collapses all whitespace,
// so cue matching is insensitive to the formatting quirks of source markup.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Trim(s, " \n\t")
	s = whitespaceRegex.ReplaceAllString(s, "")
	return s
}

// ContainsAny reports whether the normalized form of s contains any of the
// given cues. Cues are normalized too, so "due date" and "duedate" match the
// same rows.
func ContainsAny(s string, cues []string) bool {
	s = Normalize(s)
	for _, cue := range cues {
		if strings.Contains(s, Normalize(cue)) {
			return true
		}
	}
	return false
}
