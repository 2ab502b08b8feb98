package config

import (
	"regexp"
	"strings"
)

// SensitivePattern represents a pattern that might indicate sensitive data
type SensitivePattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Description string
}

var sensitivePatterns = []SensitivePattern{
	{
		Name:        "OTP",
		Pattern:     regexp.MustCompile(`(?i)\b(otp|passcode)\s*=\s*['"][^'"]+['"]`),
		Description: "One-time passcode hardcoded in profile",
	},
	{
		Name:        "Token",
		Pattern:     regexp.MustCompile(`(?i)(token|auth[_-]?token|access[_-]?token|bearer)\s*=\s*['"][a-zA-Z0-9_-]{15,}['"]`),
		Description: "Potential authentication token detected",
	},
	{
		Name:        "Password",
		Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd)\s*=\s*['"].+['"]`),
		Description: "Potential password detected",
	},
	{
		Name:        "GitHub Token",
		Pattern:     regexp.MustCompile(`gh[ps]_[a-zA-Z0-9]{36,}`),
		Description: "Potential GitHub token detected",
	},
}

// SensitiveDataFinding represents a detected sensitive data instance
type SensitiveDataFinding struct {
	PatternName string
	Description string
	Line        int
	Preview     string // Redacted preview of the match
}

// DetectSensitiveData scans profile content for potential secrets
func DetectSensitiveData(content string) []SensitiveDataFinding {
	var findings []SensitiveDataFinding
	lines := strings.Split(content, "\n")

	for lineNum, line := range lines {
		for _, pattern := range sensitivePatterns {
			if pattern.Pattern.MatchString(line) {
				findings = append(findings, SensitiveDataFinding{
					PatternName: pattern.Name,
					Description: pattern.Description,
					Line:        lineNum + 1, // 1-based line numbers
					Preview:     redactSensitiveValue(line),
				})
			}
		}
	}

	return findings
}

// redactSensitiveValue creates a redacted preview of a line with sensitive data
func redactSensitiveValue(line string) string {
	eqIdx := strings.Index(line, "=")
	if eqIdx == -1 {
		if len(line) > 30 {
			return line[:30] + "... [REDACTED]"
		}
		return line + " [REDACTED]"
	}

	keyPart := strings.TrimSpace(line[:eqIdx])
	return keyPart + " = [REDACTED]"
}
