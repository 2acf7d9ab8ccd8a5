package domain

import "strings"

// NormalizeSlug converts a display name or loosely formatted identifier into
// the canonical app slug: lowercase, dots stripped, runs of whitespace,
// dashes, and underscores collapsed to a single underscore. Leading and
// trailing separators are trimmed, so the operation is idempotent.
func NormalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r == '.':
			// "Logz.io" -> "logzio"
		case r == ' ' || r == '\t' || r == '-' || r == '_':
			pendingSep = true
		default:
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidSlug reports whether s is a canonical slug: non-empty groups of
// lowercase letters and digits separated by single underscores.
func IsValidSlug(s string) bool {
	if s == "" {
		return false
	}
	lastWasSep := true // leading underscore is invalid
	for _, r := range s {
		if r == '_' {
			if lastWasSep {
				return false
			}
			lastWasSep = true
			continue
		}
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
		lastWasSep = false
	}
	return !lastWasSep
}
