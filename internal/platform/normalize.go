package platform

import (
	"fmt"
	"strings"
)

// familyMap maps distribution names to their canonical family names.
var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
}

// Canonical maps an operating system and CPU architecture identifier, as
// reported by uname or the Go runtime, to the platform string used in release
// artifact names.
//
//	Canonical("Linux", "x86_64")  // "linux-amd64"
//	Canonical("Darwin", "arm64")  // "darwin-arm64"
func Canonical(osName, arch string) (string, error) {
	goos, err := normalizeOS(osName)
	if err != nil {
		return "", err
	}

	normalized, err := normalizeArch(arch)
	if err != nil {
		return "", err
	}

	// armv7 builds are published for Linux only
	if goos == OSDarwin && normalized == ArchARMv7 {
		return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedArch, arch, goos)
	}

	return goos + "-" + normalized, nil
}

// normalizeOS converts uname -s or GOOS values to canonical OS names.
func normalizeOS(osName string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(osName)) {
	case "linux":
		return OSLinux, nil
	case "darwin":
		return OSDarwin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOS, osName)
	}
}

// normalizeArch converts uname -m or GOARCH values to canonical architecture names.
func normalizeArch(arch string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(arch)) {
	case "amd64", "x86_64":
		return ArchAMD64, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	case "armv7", "armv7l", "arm":
		return ArchARMv7, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
	}
}

// normalizePlatform converts platform IDs to lowercase for consistency.
func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// mapFamily maps distribution family strings to canonical family names.
func mapFamily(family string) string {
	normalized := strings.ToLower(strings.TrimSpace(family))
	if canonical, ok := familyMap[normalized]; ok {
		return canonical
	}
	return FamilyUnknown
}
