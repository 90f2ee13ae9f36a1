package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// international or local numbers of at least nine digits, with optional
	// spaces, dots or dashes between groups
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9 .\-]{7,}[0-9]`)
)

// HashContact returns the hex SHA-256 of a phone number or email, normalized
// so that formatting differences hash the same.
func HashContact(value string) string {
	value = strings.ToLower(strings.Join(strings.Fields(value), ""))
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Names are kept.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
