package utils

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Slug must be lowercase alphanumeric and hyphens only, 2–64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// NormalizeSlug lowercases and trims s.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSlug reports whether s is an acceptable workspace slug. Slugs that parse
// as a UUID are refused so a slug can never be mistaken for a workspace id.
func ValidSlug(s string) bool {
	if !slugRegex.MatchString(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err != nil
}
