package utils

import (
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// ContainsControl reports whether s has any control characters.
func ContainsControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// IsValidQuery checks if raw user input should reach the index at all.
// Rejects invalid UTF-8 and control characters; everything else is a
// legitimate identifier prefix (underscores, dots, digits, spaces).
func IsValidQuery(s string) bool {
	if len(s) == 0 || !utf8.ValidString(s) {
		return false
	}
	return !ContainsControl(s)
}

// FormatCount formats an integer with comma separators
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}

// PadRight pads s with spaces to a display width of w cells.
func PadRight(s string, w int) string {
	return runewidth.FillRight(s, w)
}

// Truncate shortens s to w display cells, marking the cut with an ellipsis.
func Truncate(s string, w int) string {
	return runewidth.Truncate(s, w, "…")
}
