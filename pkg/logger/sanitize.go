package logger

import (
	"strings"
)

// SanitizedEmail masks a credential identifier for logging. Emails become
// "u***@*******.com"; anything else keeps only its first character.
func SanitizedEmail(email string) string {
	if email == "" {
		return ""
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return maskTail(email)
	}

	username := maskTail(parts[0])
	domain := parts[1]

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

func maskTail(s string) string {
	if len(s) <= 1 {
		return s
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "token", "secret", "api_key", "apikey",
		"email", "auth", "session",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
