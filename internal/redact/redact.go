// Package redact scrubs sensitive information from error text before it is
// persisted into a job's runtime.error field or logged. Queue records are
// plain files an operator may share for debugging, so diagnostic messages
// must never carry secrets, key material, or decrypted payload fragments.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedBlobPlaceholder       = "[REDACTED_BLOB]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
)

// Precompiled regex patterns.
var (
	// Credentials and secrets spelled out in messages.
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|passphrase|pwd)([=:\s]+['"]?)[^'"&\s]{3,}`)
	secretRegex   = regexp.MustCompile(`(?i)(secret|api[_-]?key|token|key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}={0,2}`)

	// Long base64 runs: ciphertext, salts, nonces, derived keys. Short
	// runs are left alone so ordinary words survive.
	base64Regex = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)

	// Email addresses: the payloads under analysis are emails, so any
	// address in an error message is likely payload leakage.
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	patternPlaceholders = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{passwordRegex, RedactedCredentialPlaceholder},
		{secretRegex, RedactedKeyPlaceholder},
		{base64Regex, RedactedBlobPlaceholder},
		{emailRegex, RedactedEmailPlaceholder},
	}
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, entry := range patternPlaceholders {
		result = entry.pattern.ReplaceAllString(result, entry.placeholder)
	}

	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
