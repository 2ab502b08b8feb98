package binary

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"        //nolint:staticcheck
	"github.com/ProtonMail/go-crypto/openpgp/packet" //nolint:staticcheck

	"github.com/vm-server/agent-installer/internal/testutil"
)

func TestVerifyChecksum(t *testing.T) {
	dir := t.TempDir()
	archive := []byte("agent archive bytes")
	archivePath := testutil.WriteFile(t, dir, "vm-server-agent-linux-amd64.tar.gz", archive)
	sum := testutil.SHA256Hex(archive)

	tests := []struct {
		name     string
		manifest string
		wantErr  error
		mismatch bool
	}{
		{
			name:     "exact_match",
			manifest: sum + "  vm-server-agent-linux-amd64.tar.gz\n",
		},
		{
			name:     "binary_mode_marker",
			manifest: sum + " *vm-server-agent-linux-amd64.tar.gz\n",
		},
		{
			name:     "uppercase_digest",
			manifest: strings.ToUpper(sum) + "  vm-server-agent-linux-amd64.tar.gz\n",
		},
		{
			name:     "basename_match",
			manifest: sum + "  dist/vm-server-agent-linux-amd64.tar.gz\n",
		},
		{
			name: "among_other_entries",
			manifest: "# release checksums\n" +
				strings.Repeat("0", 64) + "  vm-server-agent-darwin-arm64.tar.gz\n" +
				sum + "  vm-server-agent-linux-amd64.tar.gz\n",
		},
		{
			name:     "missing_entry",
			manifest: sum + "  vm-server-agent-linux-arm64.tar.gz\n",
			wantErr:  ErrChecksumNotFound,
		},
		{
			name:     "mismatch",
			manifest: strings.Repeat("a", 64) + "  vm-server-agent-linux-amd64.tar.gz\n",
			mismatch: true,
		},
	}

	verifier := NewVerifier("", nil, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifestPath := testutil.WriteFile(t, t.TempDir(), "SHA256SUMS", []byte(tt.manifest))

			result, err := verifier.VerifyChecksum(archivePath, manifestPath)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if result.Success {
					t.Error("expected verification to fail")
				}
				return
			}

			if tt.mismatch {
				var mismatch *ChecksumMismatchError
				if !errors.As(err, &mismatch) {
					t.Fatalf("expected ChecksumMismatchError, got %v", err)
				}
				if mismatch.Actual != sum {
					t.Errorf("actual digest = %s, want %s", mismatch.Actual, sum)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Success || result.Method != VerificationSHA256 {
				t.Errorf("unexpected result: %+v", result)
			}
		})
	}
}

func TestVerifyChecksumMissingFiles(t *testing.T) {
	verifier := NewVerifier("", nil, nil)
	dir := t.TempDir()

	if _, err := verifier.VerifyChecksum(filepath.Join(dir, "missing.tar.gz"), filepath.Join(dir, "SHA256SUMS")); err == nil {
		t.Error("expected error for missing archive")
	}

	archivePath := testutil.WriteFile(t, dir, "a.tar.gz", []byte("x"))
	if _, err := verifier.VerifyChecksum(archivePath, filepath.Join(dir, "SHA256SUMS")); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestVerifyManifestSignature(t *testing.T) {
	dir := t.TempDir()
	signer, keyringPath := testutil.SigningKey(t, dir)

	otherDir := t.TempDir()
	stranger, _ := testutil.SigningKey(t, otherDir)

	manifest := []byte(strings.Repeat("b", 64) + "  vm-server-agent-linux-amd64.tar.gz\n")
	manifestPath := testutil.WriteFile(t, dir, "SHA256SUMS", manifest)

	tests := []struct {
		name        string
		signature   []byte
		manifest    string
		wantSuccess bool
	}{
		{
			name:        "valid_signature",
			signature:   testutil.SignDetached(t, signer, manifest),
			manifest:    manifestPath,
			wantSuccess: true,
		},
		{
			name:      "tampered_manifest",
			signature: testutil.SignDetached(t, signer, manifest),
			manifest:  testutil.WriteFile(t, dir, "SHA256SUMS.tampered", append([]byte("0"), manifest[1:]...)),
		},
		{
			name:      "unknown_signer",
			signature: testutil.SignDetached(t, stranger, manifest),
			manifest:  manifestPath,
		},
		{
			name:      "garbage_signature",
			signature: []byte("-----BEGIN PGP SIGNATURE-----\nnot a signature\n-----END PGP SIGNATURE-----\n"),
			manifest:  manifestPath,
		},
	}

	verifier := NewVerifier(keyringPath, nil, nil)
	if !verifier.RequiresSignature() {
		t.Fatal("verifier with keyring should require a signature")
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigPath := testutil.WriteFile(t, t.TempDir(), "SHA256SUMS.asc", tt.signature)

			result, err := verifier.VerifyManifestSignature(tt.manifest, sigPath)

			if tt.wantSuccess {
				if err != nil {
					t.Fatalf("expected success, got error: %v", err)
				}
				if !result.Success || result.Method != VerificationGPG {
					t.Errorf("unexpected result: %+v", result)
				}
				return
			}

			if err == nil {
				t.Fatal("expected error but got none")
			}
			if result == nil || result.Success {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestVerifyManifestSignatureKeyringErrors(t *testing.T) {
	dir := t.TempDir()
	manifestPath := testutil.WriteFile(t, dir, "SHA256SUMS", []byte("x  y\n"))
	sigPath := testutil.WriteFile(t, dir, "SHA256SUMS.asc", []byte("sig"))

	tests := []struct {
		name    string
		keyring string
	}{
		{name: "missing_keyring", keyring: filepath.Join(dir, "nope.asc")},
		{name: "invalid_keyring", keyring: testutil.WriteFile(t, dir, "bad.asc", []byte("not a key"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.keyring, nil, nil).VerifyManifestSignature(manifestPath, sigPath)
			if err == nil || !strings.Contains(err.Error(), "keyring") {
				t.Errorf("expected keyring error, got %v", err)
			}
		})
	}
}

func TestVerifyManifestBundleValidation(t *testing.T) {
	dir := t.TempDir()
	manifestPath := testutil.WriteFile(t, dir, "SHA256SUMS", []byte("x  y\n"))

	if _, err := NewVerifier("", nil, nil).VerifyManifestBundle(manifestPath, filepath.Join(dir, "b.json")); err == nil {
		t.Error("expected error without identity")
	}

	incomplete := NewVerifier("", &BundleIdentity{Issuer: "https://token.actions.githubusercontent.com"}, nil)
	if !incomplete.RequiresBundle() {
		t.Error("verifier with identity should require a bundle")
	}
	if _, err := incomplete.VerifyManifestBundle(manifestPath, filepath.Join(dir, "b.json")); err == nil {
		t.Error("expected error for identity without subject")
	}

	complete := NewVerifier("", &BundleIdentity{
		Issuer:          "https://token.actions.githubusercontent.com",
		SubjectRegexp:   "^https://github.com/vm-server/",
		TrustedRootPath: filepath.Join(dir, "trusted_root.json"),
	}, nil)
	bundlePath := testutil.WriteFile(t, dir, "SHA256SUMS.sigstore.json", []byte(`{"not":"a bundle"}`))
	result, err := complete.VerifyManifestBundle(manifestPath, bundlePath)
	if err == nil {
		t.Fatal("expected error for malformed bundle")
	}
	if result.Method != VerificationSigstore || result.Success {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestVerificationMethodString(t *testing.T) {
	tests := []struct {
		methods []VerificationMethod
		want    string
	}{
		{nil, "none"},
		{[]VerificationMethod{VerificationSHA256}, "sha256"},
		{[]VerificationMethod{VerificationSHA256, VerificationGPG}, "sha256+gpg"},
		{[]VerificationMethod{VerificationSHA256, VerificationGPG, VerificationSigstore}, "sha256+gpg+sigstore"},
	}

	for _, tt := range tests {
		if got := JoinMethods(tt.methods); got != tt.want {
			t.Errorf("JoinMethods(%v) = %q, want %q", tt.methods, got, tt.want)
		}
	}
}

func TestChecksumMismatchErrorMessage(t *testing.T) {
	err := &ChecksumMismatchError{File: "a.tar.gz", Expected: "aaa", Actual: "bbb"}
	msg := err.Error()
	for _, want := range []string{"a.tar.gz", "aaa", "bbb"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestLoadKeyringBinary(t *testing.T) {
	entity, err := openpgp.NewEntity("Binary Key", "", "bin@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var buf bytes.Buffer
	if err := entity.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	path := filepath.Join(t.TempDir(), "keyring.gpg")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	keyring, err := loadKeyring(path)
	if err != nil {
		t.Fatalf("loadKeyring: %v", err)
	}
	if len(keyring) != 1 {
		t.Errorf("expected 1 entity, got %d", len(keyring))
	}
}
