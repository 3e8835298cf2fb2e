package core

import "strings"

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// SameName reports whether two person names match (trimmed, case-insensitive).
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// SamePhone reports whether two phone numbers match (trimmed, exact).
func SamePhone(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
