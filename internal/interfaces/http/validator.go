package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxUsernameLength = 64
	MaxGroupIDLength  = 128
	MaxPropertyLength = 64
	MaxTitleLength    = 256
	MaxCaptionLength  = 4096
	MaxBatchGroups    = 500
)

var (
	slugPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	groupIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
	propertyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidSlug checks if a username is safe (alphanumeric + underscore + hyphen)
func ValidSlug(s string) bool {
	return s != "" && len(s) <= MaxUsernameLength && slugPattern.MatchString(s)
}

// ValidGroupID accepts platform group ids: WhatsApp JIDs, Telegram chat ids
// (which may be negative) and worker-side slugs.
func ValidGroupID(s string) bool {
	return s != "" && len(s) <= MaxGroupIDLength && groupIDPattern.MatchString(s)
}

func ValidPropertyID(s string) bool {
	return s != "" && len(s) <= MaxPropertyLength && propertyPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	// Keep only valid UTF-8
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString truncates s to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
