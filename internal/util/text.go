// Package util holds the text helpers shared by the Coach, the engine and
// the CLI.
package util

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// TruncateString shortens s to maxLen runes, ending in "..." when cut.
// It ignores escape sequences; use TruncateANSI for styled text.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// TruncateANSI shortens s to maxWidth terminal cells, keeping escape
// sequences intact and counting wide runes as two cells.
func TruncateANSI(s string, maxWidth int) string {
	if ansi.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	return ansi.Truncate(s, maxWidth, ellipsis)
}

// SplitLines splits s on newlines after trimming surrounding whitespace.
// An empty input yields nil.
func SplitLines(s string) []string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// LastLines returns up to the final n lines of s.
func LastLines(s string, n int) []string {
	lines := SplitLines(s)
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// FormatDuration renders d for humans: "850ms", "42s", "3m05s", "1h02m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Plural returns "1 turn" or "3 turns".
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
