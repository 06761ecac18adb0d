// Package strings holds small text helpers shared across packages.
package strings

import (
	"strings"
)

// DefaultReasonMaxLen bounds failure reasons and similar free-form text
// before it lands in event metadata.
const DefaultReasonMaxLen = 200

// MinTruncateLen is the smallest accepted maxLen; anything shorter leaves no
// room for content plus "...".
const MinTruncateLen = 4

// Truncate collapses a string to a single line of at most maxLen runes,
// appending "..." when it was cut. Whitespace runs, including newlines,
// become single spaces. maxLen below MinTruncateLen is clamped.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
