package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using the running host.
type RealDetector struct {
	// goos and goarch default to the Go runtime values. They are fields so
	// tests can simulate other hosts.
	goos   string
	goarch string
}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{goos: runtime.GOOS, goarch: runtime.GOARCH}
}

// Detect performs platform detection and returns platform information.
//
// The architecture is taken from the kernel (uname -m via gopsutil) so that a
// 32-bit userland on a 64-bit kernel still picks the native build. If the
// kernel query fails the Go runtime architecture is used instead.
//
// On Linux, distribution details are best effort: a failed lookup leaves the
// distro fields empty. Context cancellation is always a hard failure.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("platform detection cancelled: %w", err)
	}

	rawArch := d.goarch
	if kernelArch, err := host.KernelArch(); err == nil && kernelArch != "" {
		rawArch = kernelArch
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("platform detection cancelled: %w", err)
	}

	canonical, err := Canonical(d.goos, rawArch)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}

	// Canonical has already validated both halves
	osName, _ := normalizeOS(d.goos)
	arch, _ := normalizeArch(rawArch)

	info := &Info{
		OS:        osName,
		Arch:      arch,
		ArchRaw:   rawArch,
		Canonical: canonical,
	}

	if info.IsLinux() {
		platform, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			return info, nil
		}

		platform = normalizePlatform(platform)
		if platform != "" {
			info.Platform = platform
			info.Family = mapFamily(family)
			info.Version = normalizePlatform(version)
		}
	}

	return info, nil
}

// StaticDetector returns a fixed Info. It is used when the operator pins the
// platform with --platform, and by tests.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured info and error.
func (s *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Info, nil
}

// FromCanonical builds an Info from a pinned "<os>-<arch>" string.
func FromCanonical(canonical string) (*Info, error) {
	osName, arch, ok := strings.Cut(canonical, "-")
	if !ok {
		return nil, fmt.Errorf("%w: malformed platform %q", ErrUnsupportedOS, canonical)
	}

	c, err := Canonical(osName, arch)
	if err != nil {
		return nil, err
	}

	goos, _ := normalizeOS(osName)
	normArch, _ := normalizeArch(arch)
	return &Info{OS: goos, Arch: normArch, ArchRaw: arch, Canonical: c}, nil
}
