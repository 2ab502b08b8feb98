package release

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseVersionOutput extracts the first semantic version from the output of
// "vm-server-agent --version", e.g. "vm-server-agent v1.4.0 (linux/amd64)".
func ParseVersionOutput(out string) (*semver.Version, error) {
	for _, field := range strings.Fields(out) {
		field = strings.Trim(field, "(),;")
		if !strings.ContainsAny(field, "0123456789") || !strings.Contains(field, ".") {
			continue
		}
		if v, err := semver.NewVersion(field); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no version found in %q", strings.TrimSpace(out))
}

// IsUpToDate reports whether the installed version is at least the candidate.
func IsUpToDate(installed, candidate *semver.Version) bool {
	if installed == nil || candidate == nil {
		return false
	}
	return !installed.LessThan(candidate)
}
