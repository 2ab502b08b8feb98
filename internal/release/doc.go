// Package release resolves VM Server Agent versions against the release index
// and builds the download URLs for a platform's release artifact and its
// checksum manifest.
//
// The release index is the GitHub releases API of a fixed repository. Tags
// are semantic versions with a leading "v" (for example "v1.4.0"). Artifacts
// follow the naming scheme
//
//	vm-server-agent-<os>-<arch>.tar.gz
//
// and every release publishes a SHA256SUMS manifest covering all artifacts,
// optionally accompanied by SHA256SUMS.asc (OpenPGP) and
// SHA256SUMS.sigstore.json (Sigstore bundle).
package release
