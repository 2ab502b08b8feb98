package config

// Setting keys. They double as flag names, settings file keys, and (upper
// cased, "-" replaced by "_", prefixed with VMAGENT_) environment variables.
const (
	KeyVersionTag     = "version-tag"
	KeyRepo           = "repo"
	KeyAPIURL         = "api-url"
	KeyDownloadURL    = "download-url"
	KeyInstallPath    = "install-path"
	KeyConfigDir      = "config-dir"
	KeyConfigFile     = "config-file"
	KeyLogFile        = "log-file"
	KeyLockDir        = "lock-dir"
	KeyServer         = "server"
	KeyNoStart        = "no-start"
	KeySkipVerify     = "skip-verify"
	KeyKeyring        = "keyring"
	KeyBundleIdentity = "bundle-identity"
	KeyBundleIssuer   = "bundle-issuer"
	KeyTrustedRoot    = "trusted-root"
	KeyPlatform       = "platform"
	KeyGitHubToken    = "github-token"
	KeyVerbose        = "verbose"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VMAGENT"

// Defaults
const (
	DefaultRepo        = "vm-server/vm-server-agent"
	DefaultAPIURL      = "https://api.github.com"
	DefaultDownloadURL = "https://github.com"
	DefaultInstallPath = "/usr/local/bin/vm-server-agent"
	DefaultConfigDir   = "/etc/vm-server-agent"
	DefaultConfigFile  = "config.yaml"
	DefaultLogFile     = "/var/log/vm-server-agent.log"
	DefaultServerURL   = "http://localhost:3000"
)

// luaGlobalInstall is the profile table holding overrides.
const luaGlobalInstall = "install"

// Resource limits for profiles
const (
	maxProfileSize = 1 << 20
	luaCallStack   = 256
	luaRegistry    = 8 * 1024
)
