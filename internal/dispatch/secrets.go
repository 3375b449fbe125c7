package dispatch

import (
	"regexp"
	"strings"
)

// SecretMatch is a detected secret in assembled context.
type SecretMatch struct {
	Type    string `json:"type"`
	Line    int    `json:"line"`
	Pattern string `json:"pattern"`
}

type secretPattern struct {
	re   *regexp.Regexp
	name string
}

// secretPatterns is the fixed detection set. Patterns target the secret
// shapes agents most commonly leak into context: key assignments,
// provider token prefixes, credentialed connection URLs.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`(?i)api[_-]?key\s*[=:]\s*['"]?[\w-]{8,}['"]?`), "API Key"},
	{regexp.MustCompile(`(?i)secret[_-]?key\s*[=:]\s*['"]?[\w-]{8,}['"]?`), "Secret Key"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{8,}`), "API Key (sk- prefix)"},
	{regexp.MustCompile(`(?i)password\s*[=:]\s*['"]?[^\s'"]{6,}['"]?`), "Password"},
	{regexp.MustCompile(`(?i)(postgres|mysql|mongodb)://[^\s]+:[^\s]+@`), "Database Password in Connection URL"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{10,}`), "Bearer Token"},
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), "GitHub Personal Access Token"},
	{regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`), "GitHub OAuth Token"},
}

// ScanForSecrets scans content line by line against the fixed pattern set.
func ScanForSecrets(content string) []SecretMatch {
	var matches []SecretMatch
	for lineNum, line := range strings.Split(content, "\n") {
		for _, p := range secretPatterns {
			if p.re.MatchString(line) {
				matches = append(matches, SecretMatch{
					Type:    p.name,
					Line:    lineNum + 1,
					Pattern: p.re.String(),
				})
			}
		}
	}
	return matches
}

// RedactSecrets replaces every matching substring with a redaction marker.
func RedactSecrets(content string) string {
	redacted := content
	for _, p := range secretPatterns {
		redacted = p.re.ReplaceAllString(redacted, "[REDACTED]")
	}
	return redacted
}

// trustedModel reports whether the target model belongs to a provider
// trusted with unredacted context.
func trustedModel(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "claude") || strings.Contains(m, "gpt")
}
