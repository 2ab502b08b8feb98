package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoadOptions selects the sources merged into Settings.
type LoadOptions struct {
	// Flags are bound by name; only flags set on the command line override.
	Flags *pflag.FlagSet
	// SettingsFile is an optional YAML file of setting keys.
	SettingsFile string
	// Profile supplies overrides that sit just above the built-in defaults.
	Profile *Profile
	// Overrides win over every other source (positional arguments).
	Overrides map[string]any
}

// Load resolves settings with precedence: overrides > flags > environment
// (VMAGENT_*) > settings file > profile > defaults.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()

	d := Defaults()
	defaults := map[string]any{
		KeyRepo:           d.Repo,
		KeyAPIURL:         d.APIURL,
		KeyDownloadURL:    d.DownloadURL,
		KeyVersionTag:     "",
		KeyInstallPath:    d.InstallPath,
		KeyConfigDir:      d.ConfigDir,
		KeyConfigFile:     d.ConfigFile,
		KeyLogFile:        d.LogFile,
		KeyLockDir:        d.LockDir,
		KeyServer:         d.ServerURL,
		KeyNoStart:        false,
		KeySkipVerify:     false,
		KeyKeyring:        "",
		KeyBundleIdentity: "",
		KeyBundleIssuer:   "",
		KeyTrustedRoot:    "",
		KeyPlatform:       "",
		KeyGitHubToken:    "",
		KeyVerbose:        false,
	}
	if opts.Profile != nil {
		for k, val := range opts.Profile.Values {
			defaults[k] = val
		}
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyGitHubToken, EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if opts.SettingsFile != "" {
		v.SetConfigFile(opts.SettingsFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file %s: %w", opts.SettingsFile, err)
		}
		if err := checkUnknownKeys(v.ConfigFileUsed(), v, defaults); err != nil {
			return nil, err
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if _, known := defaults[f.Name]; known {
				bindErr = errors.Join(bindErr, v.BindPFlag(f.Name, f))
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	s := &Settings{
		Repo:           v.GetString(KeyRepo),
		APIURL:         strings.TrimRight(v.GetString(KeyAPIURL), "/"),
		DownloadURL:    strings.TrimRight(v.GetString(KeyDownloadURL), "/"),
		VersionTag:     v.GetString(KeyVersionTag),
		GitHubToken:    v.GetString(KeyGitHubToken),
		InstallPath:    v.GetString(KeyInstallPath),
		ConfigDir:      v.GetString(KeyConfigDir),
		ConfigFile:     v.GetString(KeyConfigFile),
		LogFile:        v.GetString(KeyLogFile),
		LockDir:        v.GetString(KeyLockDir),
		ServerURL:      v.GetString(KeyServer),
		NoStart:        v.GetBool(KeyNoStart),
		SkipVerify:     v.GetBool(KeySkipVerify),
		Keyring:        v.GetString(KeyKeyring),
		BundleIdentity: v.GetString(KeyBundleIdentity),
		BundleIssuer:   v.GetString(KeyBundleIssuer),
		TrustedRoot:    v.GetString(KeyTrustedRoot),
		Platform:       v.GetString(KeyPlatform),
		Verbose:        v.GetBool(KeyVerbose),
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// checkUnknownKeys rejects settings file keys that no setting reads, which
// usually means a typo.
func checkUnknownKeys(path string, v *viper.Viper, known map[string]any) error {
	var unknown []string
	for _, k := range v.AllKeys() {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("settings file %s: unknown keys: %s", path, strings.Join(unknown, ", "))
	}
	return nil
}

func defaultLockDir() string {
	return filepath.Join(os.TempDir(), "vmagent-install")
}
