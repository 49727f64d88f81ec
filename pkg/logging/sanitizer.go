// Package logging redacts credentials from strings before they reach log output.
package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens of any shape (JWTs, opaque OAuth tokens, API keys)
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/=]+`)

	// OAuth query and form parameters that carry secrets
	oauthParamPattern = regexp.MustCompile(`(?i)\b(code|state|access_token|refresh_token|id_token|client_secret|api[_-]?key|apikey|token)=[^&\s"']+`)

	// JSON bodies echoed back by token endpoints
	jsonSecretPattern = regexp.MustCompile(`(?i)"(access_token|refresh_token|id_token|client_secret|api_key)"\s*:\s*"[^"]*"`)

	// Well-known provider key prefixes
	providerKeyPattern = regexp.MustCompile(`\b(sk-ant-[A-Za-z0-9\-_]{8,}|sk-[A-Za-z0-9\-_]{16,}|gh[pousr]_[A-Za-z0-9]{20,}|glpat-[A-Za-z0-9\-_]{16,}|xox[abpr]-[A-Za-z0-9\-]{10,}|cal_(live|test)_[A-Za-z0-9]{10,})`)

	// user:pass@host format
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeString removes tokens, OAuth parameters and provider keys from s.
// Use it on URLs, provider error bodies and anything else that may echo a credential.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = oauthParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = jsonSecretPattern.ReplaceAllString(sanitized, `"${1}":"`+RedactedText+`"`)
	sanitized = providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError is SanitizeString over err.Error().
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
