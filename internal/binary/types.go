package binary

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vm-server/agent-installer/internal/release"
)

var (
	// ErrChecksumNotFound is returned when SHA256SUMS has no entry for the artifact.
	ErrChecksumNotFound = errors.New("checksum not found in manifest")
	// ErrBinaryNotFound is returned when the archive does not contain the agent binary.
	ErrBinaryNotFound = errors.New("binary not found in archive")
	// ErrPermission wraps filesystem permission failures during install.
	ErrPermission = errors.New("permission denied (re-run with sudo or choose a writable --install-path)")
)

// ChecksumMismatchError reports a digest that differs from the manifest.
type ChecksumMismatchError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s:\nactual:   %s\nexpected: %s", e.File, e.Actual, e.Expected)
}

// VerificationMethod indicates how an artifact was verified.
type VerificationMethod int

const (
	// VerificationNone indicates verification was skipped
	VerificationNone VerificationMethod = iota
	// VerificationSHA256 indicates the SHA256SUMS manifest check
	VerificationSHA256
	// VerificationGPG indicates an OpenPGP signature over SHA256SUMS
	VerificationGPG
	// VerificationSigstore indicates a Sigstore bundle over SHA256SUMS
	VerificationSigstore
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationSHA256:
		return "sha256"
	case VerificationGPG:
		return "gpg"
	case VerificationSigstore:
		return "sigstore"
	case VerificationNone:
		return "none"
	default:
		return "unknown"
	}
}

// JoinMethods renders methods as "sha256+gpg".
func JoinMethods(methods []VerificationMethod) string {
	if len(methods) == 0 {
		return VerificationNone.String()
	}
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = m.String()
	}
	return strings.Join(parts, "+")
}

// VerificationResult contains the outcome of a verification attempt
type VerificationResult struct {
	Method  VerificationMethod
	Success bool
	Error   error
}

// InstallOptions configures a single install.
type InstallOptions struct {
	Artifact *release.Artifact
	// SkipVerify installs without checking SHA256SUMS. A warning is logged.
	SkipVerify bool
}

// DownloadResult describes a downloaded and verified artifact.
type DownloadResult struct {
	ArchivePath  string
	SHA256       string
	Verified     []VerificationMethod
	DownloadTime time.Duration
}

// InstallResult describes a completed install.
type InstallResult struct {
	Path     string
	Tag      string
	SHA256   string
	Verified []VerificationMethod
	Replaced bool // an existing binary was overwritten
	Duration time.Duration
}
