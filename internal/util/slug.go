package util

import (
	"regexp"
	"strings"
)

const maxSlugLength = 120

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe identifier from free text. Runs of characters
// outside [a-z0-9] collapse to single hyphens, leading and trailing hyphens
// are trimmed, and the result is capped at 120 characters. When nothing
// usable remains, the fallback is returned instead.
func Slugify(input, fallback string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	hyphenated := nonSlugChars.ReplaceAllString(lower, "-")
	trimmed := strings.Trim(hyphenated, "-")
	if len(trimmed) > maxSlugLength {
		trimmed = strings.Trim(trimmed[:maxSlugLength], "-")
	}
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
