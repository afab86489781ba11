package llm

import (
	"regexp"
	"strings"
)

var (
	ibanPattern = regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Za-z0-9]{11,30}\b`)
	// Digit runs of seven or more catch account, phone and customer
	// numbers that slip past the IBAN pattern.
	digitRunPattern = regexp.MustCompile(`[0-9]{7,}`)
)

// Redact masks bank identifiers and long digit runs before a prompt
// leaves the process. Masking is length-preserving so evidence offsets
// computed against the redacted text stay valid.
func Redact(prompt string) string {
	out := ibanPattern.ReplaceAllStringFunc(prompt, func(m string) string {
		// Keep the country prefix, mask the rest.
		return m[:2] + strings.Repeat("X", len(m)-2)
	})
	out = digitRunPattern.ReplaceAllStringFunc(out, func(m string) string {
		return strings.Repeat("#", len(m))
	})
	return out
}
