package deepread

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds on the rune length of a plausible string
const (
	MinTextLength = 3
	MaxTextLength = 1000
)

// maxControlRatio is the largest share of non-whitespace control characters tolerated
const maxControlRatio = 0.2

// IsPlausibleText rejects decodes that are most likely pointer bytes or binary
// garbage. Every criterion must hold.
func IsPlausibleText(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}

	n := utf8.RuneCountInString(s)
	if n < MinTextLength || n > MaxTextLength {
		return false
	}

	if strings.ContainsRune(s, utf8.RuneError) {
		return false
	}

	control, alnum := 0, false
	for _, r := range s {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			control++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum = true
		}
	}

	return float64(control)/float64(n) <= maxControlRatio && alnum
}
