package utils

import "strings"

// Truncate shortens s to at most maxLen runes, appending "..." when it cuts.
// Whitespace runs are collapsed first so multi-line previews stay on one line.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	return string(runes[:maxLen]) + "..."
}
