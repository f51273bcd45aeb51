// internal/security/sanitize.go
//
// Defensive query sanitisation for the ad-hoc admin query endpoint.
//
// This filter is defence-in-depth, not a primary barrier; application
// queries are parameterised.  It strips a closed set of dangerous
// patterns, and the presence of any stripped pattern is itself a
// security event the caller must surface as SECURITY_VIOLATION.
package security

import (
	"regexp"
	"strings"
)

// dangerousPatterns is the closed strip set: stacked mutating statements,
// UNION SELECT injection, and SQL comments.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is);\s*(DROP|DELETE|TRUNCATE|ALTER|CREATE|INSERT|UPDATE)\b.*`),
	regexp.MustCompile(`(?is)\bUNION\s+SELECT\b`),
	regexp.MustCompile(`--[^\n]*`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`#[^\n]*`),
}

// SanitizeResult reports one pass over an ad-hoc query.
type SanitizeResult struct {
	Original  string
	Sanitized string
	// Violated is true when any dangerous pattern was stripped.
	Violated bool
	Matches  []string
}

// SanitizeQuery strips dangerous patterns from q.  Callers must treat
// Violated == true as a hard failure, not as permission to run the
// sanitised remainder.
func SanitizeQuery(q string) SanitizeResult {
	res := SanitizeResult{Original: q, Sanitized: q}
	for _, re := range dangerousPatterns {
		if m := re.FindString(res.Sanitized); m != "" {
			res.Violated = true
			res.Matches = append(res.Matches, strings.TrimSpace(m))
			res.Sanitized = re.ReplaceAllString(res.Sanitized, "")
		}
	}
	res.Sanitized = strings.TrimSpace(res.Sanitized)
	return res
}
