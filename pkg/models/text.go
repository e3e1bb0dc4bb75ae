package models

import "strings"

// NoContentPlaceholder is used where a headline of an empty body is rendered.
const NoContentPlaceholder = "(no content)"

// Headline returns the first line of s, trimmed. When max > 0 the result is
// cut to at most max runes. Blank input yields NoContentPlaceholder.
func Headline(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoContentPlaceholder
	}
	line := s
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		line = strings.TrimSpace(s[:i])
	}
	if max > 0 {
		r := []rune(line)
		if len(r) > max {
			line = string(r[:max])
		}
	}
	return line
}

// MetaInt reads an integer metadata value regardless of whether it was
// stored in memory (int) or decoded from JSON (float64).
func MetaInt(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
