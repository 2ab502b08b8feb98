package binary

import (
	"fmt"
	"os"

	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

// BundleIdentity describes the signer a Sigstore bundle must be bound to,
// typically the release workflow of the agent repository.
type BundleIdentity struct {
	// Issuer is the OIDC issuer, e.g. "https://token.actions.githubusercontent.com".
	Issuer string
	// SubjectRegexp matches the certificate SAN, e.g.
	// "^https://github.com/vm-server/vm-server-agent/".
	SubjectRegexp string
	// TrustedRootPath is an optional trusted_root.json. When empty the public
	// good instance root is fetched through TUF.
	TrustedRootPath string
}

// VerifyManifestBundle verifies a Sigstore bundle over the checksum manifest.
func (v *Verifier) VerifyManifestBundle(manifestPath, bundlePath string) (*VerificationResult, error) {
	fail := func(err error) (*VerificationResult, error) {
		return &VerificationResult{Method: VerificationSigstore, Error: err}, err
	}

	if v.identity == nil {
		return fail(fmt.Errorf("no sigstore identity configured"))
	}
	if v.identity.Issuer == "" || v.identity.SubjectRegexp == "" {
		return fail(fmt.Errorf("sigstore identity requires issuer and subject"))
	}

	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return fail(fmt.Errorf("load bundle: %w", err))
	}

	trusted, err := v.trustedRoot()
	if err != nil {
		return fail(fmt.Errorf("load trusted root: %w", err))
	}

	sev, err := verify.NewVerifier(trusted,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithObserverTimestamps(1),
	)
	if err != nil {
		return fail(fmt.Errorf("create verifier: %w", err))
	}

	certID, err := verify.NewShortCertificateIdentity(v.identity.Issuer, "", "", v.identity.SubjectRegexp)
	if err != nil {
		return fail(fmt.Errorf("certificate identity: %w", err))
	}

	manifest, err := os.Open(manifestPath)
	if err != nil {
		return fail(fmt.Errorf("open manifest: %w", err))
	}
	defer manifest.Close()

	if _, err := sev.Verify(b, verify.NewPolicy(verify.WithArtifact(manifest), verify.WithCertificateIdentity(certID))); err != nil {
		return fail(fmt.Errorf("verify bundle: %w", err))
	}

	v.logger.Debug("manifest bundle verified", "issuer", v.identity.Issuer)
	return &VerificationResult{Method: VerificationSigstore, Success: true}, nil
}

func (v *Verifier) trustedRoot() (root.TrustedMaterial, error) {
	if v.identity.TrustedRootPath != "" {
		return root.NewTrustedRootFromPath(v.identity.TrustedRootPath)
	}
	return root.FetchTrustedRoot()
}
