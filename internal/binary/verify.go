package binary

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/vm-server/agent-installer/internal/config"
)

// Verifier handles cryptographic verification of release artifacts
type Verifier struct {
	// keyringPath is an optional OpenPGP public keyring (armored or binary)
	keyringPath string
	// identity enables Sigstore bundle verification when non-nil
	identity *BundleIdentity
	logger   config.Logger
}

// NewVerifier creates a new verifier. keyringPath and identity are optional.
func NewVerifier(keyringPath string, identity *BundleIdentity, logger config.Logger) *Verifier {
	return &Verifier{
		keyringPath: keyringPath,
		identity:    identity,
		logger:      config.OrNop(logger),
	}
}

// RequiresSignature reports whether SHA256SUMS must carry an OpenPGP signature.
func (v *Verifier) RequiresSignature() bool {
	return v.keyringPath != ""
}

// RequiresBundle reports whether SHA256SUMS must carry a Sigstore bundle.
func (v *Verifier) RequiresBundle() bool {
	return v.identity != nil
}

// VerifyChecksum computes the SHA256 of archivePath and compares it with the
// entry for the archive's file name in the manifest.
func (v *Verifier) VerifyChecksum(archivePath, manifestPath string) (*VerificationResult, error) {
	actual, err := calculateSHA256(archivePath)
	if err != nil {
		err = fmt.Errorf("calculate checksum: %w", err)
		return &VerificationResult{Method: VerificationSHA256, Error: err}, err
	}

	name := filepath.Base(archivePath)
	expected, err := findChecksum(manifestPath, name)
	if err != nil {
		return &VerificationResult{Method: VerificationSHA256, Error: err}, err
	}

	if !strings.EqualFold(actual, expected) {
		err := &ChecksumMismatchError{File: name, Expected: expected, Actual: actual}
		return &VerificationResult{Method: VerificationSHA256, Error: err}, err
	}

	v.logger.Debug("checksum verified", "file", name, "sha256", actual)
	return &VerificationResult{Method: VerificationSHA256, Success: true}, nil
}

// VerifyManifestSignature checks a detached OpenPGP signature over the
// checksum manifest against the configured keyring.
func (v *Verifier) VerifyManifestSignature(manifestPath, signaturePath string) (*VerificationResult, error) {
	fail := func(err error) (*VerificationResult, error) {
		return &VerificationResult{Method: VerificationGPG, Error: err}, err
	}

	keyring, err := loadKeyring(v.keyringPath)
	if err != nil {
		return fail(fmt.Errorf("load keyring: %w", err))
	}

	manifest, err := os.Open(manifestPath)
	if err != nil {
		return fail(fmt.Errorf("open manifest: %w", err))
	}
	defer manifest.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return fail(fmt.Errorf("open signature: %w", err))
	}
	defer sig.Close()

	// Armored first, then binary
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, manifest, sig, nil)
	if err != nil {
		manifest.Seek(0, io.SeekStart)
		sig.Seek(0, io.SeekStart)
		signer, err = openpgp.CheckDetachedSignature(keyring, manifest, sig, nil)
	}
	if err != nil {
		return fail(fmt.Errorf("verify signature: %w", err))
	}

	if signer != nil && signer.PrimaryKey != nil {
		v.logger.Debug("manifest signature verified", "key", signer.PrimaryKey.KeyIdString())
	}
	return &VerificationResult{Method: VerificationGPG, Success: true}, nil
}

// calculateSHA256 calculates the SHA256 checksum of a file
func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// findChecksum finds the checksum for a specific filename in a checksum file.
// Format: "abc123def456  filename.tar.gz", with an optional "*" before the
// name for binary mode entries.
func findChecksum(checksumPath, filename string) (string, error) {
	file, err := os.Open(checksumPath)
	if err != nil {
		return "", fmt.Errorf("open checksum file: %w", err)
	}
	defer file.Close()

	var basenameMatch string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 || strings.HasPrefix(parts[0], "#") {
			continue
		}

		entry := strings.TrimPrefix(parts[1], "*")
		if entry == filename {
			return parts[0], nil
		}

		// Entries such as "dist/vm-server-agent-linux-amd64.tar.gz"
		if basenameMatch == "" && filepath.Base(entry) == filename {
			basenameMatch = parts[0]
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan checksum file: %w", err)
	}

	if basenameMatch != "" {
		return basenameMatch, nil
	}
	return "", fmt.Errorf("%w: %s", ErrChecksumNotFound, filename)
}
