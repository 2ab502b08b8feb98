package release

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	// DefaultRepo is the repository that publishes agent releases.
	DefaultRepo = "vm-server/vm-server-agent"
	// DefaultAPIBase is the release index endpoint.
	DefaultAPIBase = "https://api.github.com"
	// DefaultDownloadBase is the artifact download endpoint.
	DefaultDownloadBase = "https://github.com"
	// BinaryName is the name of the agent executable inside the artifact.
	BinaryName = "vm-server-agent"
	// ChecksumManifest is the name of the checksum manifest asset.
	ChecksumManifest = "SHA256SUMS"
)

var (
	// ErrNoRelease is returned when the index has no tagged release.
	ErrNoRelease = errors.New("no tagged release found")
	// ErrReleaseNotFound is returned when a requested tag does not exist.
	ErrReleaseNotFound = errors.New("release not found")
)

// Release is an entry of the release index.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Version parses the release tag as a semantic version.
func (r *Release) Version() (*semver.Version, error) {
	v, err := semver.NewVersion(r.TagName)
	if err != nil {
		return nil, fmt.Errorf("parse release tag %q: %w", r.TagName, err)
	}
	return v, nil
}

// HasAsset reports whether the release lists an asset with the given name.
func (r *Release) HasAsset(name string) bool {
	for _, a := range r.Assets {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Artifact holds the resolved download locations for one platform build.
type Artifact struct {
	Name         string // archive file name
	Tag          string // release tag
	URL          string // archive URL
	ChecksumsURL string // SHA256SUMS URL
	SignatureURL string // SHA256SUMS.asc URL
	BundleURL    string // SHA256SUMS.sigstore.json URL
}

// ArtifactName returns the archive name for a canonical platform string.
func ArtifactName(canonical string) string {
	return fmt.Sprintf("%s-%s.tar.gz", BinaryName, canonical)
}

// NewArtifact builds artifact URLs of the form
// <downloadBase>/<repo>/releases/download/<tag>/<name>.
func NewArtifact(downloadBase, repo, tag, canonical string) *Artifact {
	base := fmt.Sprintf("%s/%s/releases/download/%s", strings.TrimRight(downloadBase, "/"), repo, tag)
	name := ArtifactName(canonical)

	return &Artifact{
		Name:         name,
		Tag:          tag,
		URL:          base + "/" + name,
		ChecksumsURL: base + "/" + ChecksumManifest,
		SignatureURL: base + "/" + ChecksumManifest + ".asc",
		BundleURL:    base + "/" + ChecksumManifest + ".sigstore.json",
	}
}
