// Package utils provides shared helpers for logging, text and vector math.
package utils

import "unicode/utf8"

// Truncate returns s cut to at most maxRunes runes, with "..." appended when
// something was removed. maxRunes <= 0 returns s unchanged.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
