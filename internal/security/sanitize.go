package security

import (
	"regexp"
)

// RedactionMarker replaces any substring that looks like key or card
// material in externally observable error text.
const RedactionMarker = "[REDACTED]"

// Patterns that must never leave the process in an error message:
// provider key/secret shapes, card-shaped and SSN-shaped digit groups.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsk_[a-zA-Z0-9_]+`),
	regexp.MustCompile(`(?i)\bpk_[a-zA-Z0-9_]+`),
	regexp.MustCompile(`(?i)\brk_[a-zA-Z0-9_]+`),
	regexp.MustCompile(`(?i)\bwhsec_[a-zA-Z0-9_]+`),
	regexp.MustCompile(`(?i)\bstripe_[a-zA-Z0-9_]+`),
	regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
}

// Sanitize redacts secret-shaped substrings from an error message.
// Every error string that can reach a response body, a generic log line
// or a stored error_message goes through here first.
func Sanitize(message string) string {
	sanitized := message
	for _, pattern := range sensitivePatterns {
		sanitized = pattern.ReplaceAllString(sanitized, RedactionMarker)
	}
	return sanitized
}
