package crawler

import (
	"regexp"
	"strings"
	"unicode"
)

var unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// NormalizeKey derives an entity key from a display name: control characters
// are removed and surrounding whitespace trimmed.
func NormalizeKey(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(cleaned)
}

// SanitizeName replaces characters that are unsafe in file names with '_'.
func SanitizeName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}
