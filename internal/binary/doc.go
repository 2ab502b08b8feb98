// Package binary downloads, verifies, and installs the VM Server Agent release
// artifact.
//
// # Security Model
//
// The agent binary is never installed without a successful checksum check
// unless the operator explicitly skips verification:
//   - The archive's SHA256 must match its entry in the release SHA256SUMS
//     manifest. A missing entry or a mismatch aborts the install and the
//     downloaded files are discarded.
//   - When an OpenPGP keyring is configured, SHA256SUMS must carry a valid
//     detached signature (SHA256SUMS.asc) from a key in that keyring.
//   - When a Sigstore identity is configured, SHA256SUMS must verify against
//     its Sigstore bundle (SHA256SUMS.sigstore.json).
//
// Skipping verification downgrades all of the above to a logged warning.
//
// # Usage
//
//	mgr, err := binary.NewManager(binary.Config{
//	    InstallPath: "/usr/local/bin/vm-server-agent",
//	    ConfigDir:   "/etc/vm-server-agent",
//	    Logger:      logger,
//	})
//	if err != nil {
//	    return err
//	}
//
//	res, err := mgr.Install(ctx, binary.InstallOptions{
//	    Artifact: release.NewArtifact(release.DefaultDownloadBase, repo, tag, info.Canonical),
//	})
//
// # Architecture
//
//   - Manager: orchestration of download, verify, extract, install
//   - Downloader: HTTP download with exponential backoff
//   - Verifier: SHA256 manifest check, OpenPGP and Sigstore manifest signatures
//   - Extractor: locate and extract the agent binary from the tar.gz
package binary
