package agent

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Ellipsis is appended to text shortened by Truncate.
const Ellipsis = "…"

// Truncate shortens s to at most max runes, appending an ellipsis when
// anything was cut. A non-positive max leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + Ellipsis
}

// Base returns the last element of a file path for display. Both slash
// styles are accepted since transcripts may come from another OS.
func Base(path string) string {
	path = strings.TrimRight(path, `/\`)
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}

// FirstLine returns s up to its first newline, trimmed.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
