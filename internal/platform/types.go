// Package platform detects the host operating system and CPU architecture and
// maps them to the canonical platform strings used to name agent release
// artifacts (for example "linux-amd64").
//
// Linux distribution details are collected through gopsutil when available
// and exposed to install profiles as a read-only Lua table.
package platform

import (
	"context"
	"errors"
)

// Canonical OS names.
const (
	OSLinux  = "linux"
	OSDarwin = "darwin"
)

// Canonical architecture names.
const (
	ArchAMD64 = "amd64"
	ArchARM64 = "arm64"
	ArchARMv7 = "armv7"
)

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyUnknown = "unknown" // Unrecognized distributions
)

var (
	// ErrUnsupportedOS is returned when the operating system has no agent build.
	ErrUnsupportedOS = errors.New("unsupported operating system")
	// ErrUnsupportedArch is returned when the CPU architecture has no agent build.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// Info contains platform detection information.
type Info struct {
	OS        string // "linux", "darwin"
	Arch      string // "amd64", "arm64", "armv7" (normalized)
	ArchRaw   string // kernel value (e.g., "x86_64", "aarch64")
	Canonical string // "<os>-<arch>", used in artifact names
	Platform  string // distro ID (Linux only, e.g., "ubuntu")
	Family    string // canonical family (e.g., "debian")
	Version   string // distro version (Linux only, e.g., "22.04")
}

// Distro contains Linux distribution information.
type Distro struct {
	ID      string
	Family  string
	Version string
}

// GetDistro returns distro information if this is a Linux platform.
// Returns nil for non-Linux platforms or if distro detection failed.
func (i *Info) GetDistro() *Distro {
	if i.OS != OSLinux || i.Platform == "" {
		return nil
	}
	return &Distro{
		ID:      i.Platform,
		Family:  i.Family,
		Version: i.Version,
	}
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == OSLinux
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == OSDarwin
}

// IsARM returns true for any ARM architecture.
func (i *Info) IsARM() bool {
	return i.Arch == ArchARM64 || i.Arch == ArchARMv7
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
