package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Settings is the resolved installer configuration.
type Settings struct {
	// Release source
	Repo        string
	APIURL      string
	DownloadURL string
	VersionTag  string // empty means latest
	GitHubToken string

	// Host layout
	InstallPath string
	ConfigDir   string
	ConfigFile  string // file name inside ConfigDir
	LogFile     string
	LockDir     string

	// Registration
	ServerURL string
	NoStart   bool

	// Verification
	SkipVerify     bool
	Keyring        string
	BundleIdentity string
	BundleIssuer   string
	TrustedRoot    string

	// Platform overrides detection when set (e.g. "linux-arm64")
	Platform string
	Verbose  bool
}

// ConfigPath returns the agent config file path.
func (s *Settings) ConfigPath() string {
	return filepath.Join(s.ConfigDir, s.ConfigFile)
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Repo:        DefaultRepo,
		APIURL:      DefaultAPIURL,
		DownloadURL: DefaultDownloadURL,
		InstallPath: DefaultInstallPath,
		ConfigDir:   DefaultConfigDir,
		ConfigFile:  DefaultConfigFile,
		LogFile:     DefaultLogFile,
		LockDir:     defaultLockDir(),
		ServerURL:   DefaultServerURL,
	}
}

var repoRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	var errs []error

	if err := ValidateServerURL(s.ServerURL); err != nil {
		errs = append(errs, err)
	}

	if !repoRegex.MatchString(s.Repo) {
		errs = append(errs, fmt.Errorf("repo must be owner/name, got %q", s.Repo))
	}

	for _, u := range []struct{ name, value string }{
		{KeyAPIURL, s.APIURL},
		{KeyDownloadURL, s.DownloadURL},
	} {
		if err := validateHTTPURL(u.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.name, err))
		}
	}

	for _, p := range []struct{ name, value string }{
		{KeyInstallPath, s.InstallPath},
		{KeyConfigDir, s.ConfigDir},
		{KeyLogFile, s.LogFile},
		{KeyLockDir, s.LockDir},
	} {
		if !filepath.IsAbs(p.value) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", p.name, p.value))
		}
	}

	if s.ConfigFile == "" || strings.ContainsRune(s.ConfigFile, filepath.Separator) {
		errs = append(errs, fmt.Errorf("%s must be a file name, got %q", KeyConfigFile, s.ConfigFile))
	}

	if (s.BundleIdentity == "") != (s.BundleIssuer == "") {
		errs = append(errs, fmt.Errorf("%s and %s must be set together", KeyBundleIdentity, KeyBundleIssuer))
	}
	if s.BundleIdentity != "" {
		if _, err := regexp.Compile(s.BundleIdentity); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyBundleIdentity, err))
		}
	}

	if s.SkipVerify && (s.Keyring != "" || s.BundleIdentity != "") {
		errs = append(errs, fmt.Errorf("%s cannot be combined with signature verification", KeySkipVerify))
	}

	return errors.Join(errs...)
}

// ValidateServerURL checks that a server URL is an absolute http(s) URL.
func ValidateServerURL(raw string) error {
	if err := validateHTTPURL(raw); err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
