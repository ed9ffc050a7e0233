package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// SanitizeFileComponent maps an identifier to something safe to use as a
// single path element.
func SanitizeFileComponent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20:
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." || out == "" {
		return "_"
	}
	return out
}

// ExpandHome resolves a leading ~ against the user's home directory.
func ExpandHome(path string, home string) string {
	path = strings.TrimSpace(path)
	if path == "" || path[0] != '~' || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:]
	}
	return path
}
