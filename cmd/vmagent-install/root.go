package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vm-server/agent-installer/internal/config"
	"github.com/vm-server/agent-installer/internal/installer"
	"github.com/vm-server/agent-installer/internal/platform"
)

// globalOptions are the flags that choose where settings come from.
type globalOptions struct {
	profile  string
	settings string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "vmagent-install [OTP] [SERVER_URL]",
		Short: "Install the VM Server Agent",
		Long: `Download, verify, and install the VM Server Agent for this host.

With an OTP the agent is registered with SERVER_URL and started in the
background. Without one the binary is installed and the registration
commands are printed.`,
		Example: `  vmagent-install
  vmagent-install 482913
  vmagent-install 482913 https://vm.example.com
  vmagent-install --version-tag v1.4.0 --skip-verify`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, opts, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.profile, "profile", "", "Lua install profile")
	pf.StringVar(&opts.settings, "settings", "", "YAML settings file")
	addSettingsFlags(pf)

	cmd.AddCommand(newStatusCmd(opts), newUninstallCmd(opts), newVersionCmd())
	return cmd
}

// addSettingsFlags registers one flag per setting key. Defaults are shown in
// help only; config.Load applies a flag only when it was set.
func addSettingsFlags(fs *pflag.FlagSet) {
	fs.String(config.KeyVersionTag, "", "agent release to install (default latest)")
	fs.String(config.KeyRepo, config.DefaultRepo, "repository publishing agent releases")
	fs.String(config.KeyAPIURL, config.DefaultAPIURL, "release index base URL")
	fs.String(config.KeyDownloadURL, config.DefaultDownloadURL, "artifact download base URL")
	fs.String(config.KeyInstallPath, config.DefaultInstallPath, "where the agent binary is installed")
	fs.String(config.KeyConfigDir, config.DefaultConfigDir, "agent configuration directory")
	fs.String(config.KeyConfigFile, config.DefaultConfigFile, "agent configuration file name")
	fs.String(config.KeyLogFile, config.DefaultLogFile, "log file for the started agent")
	fs.String(config.KeyLockDir, "", "directory for the install lock (default $TMPDIR/vmagent-install)")
	fs.Bool(config.KeyNoStart, false, "register but do not start the agent")
	fs.Bool(config.KeySkipVerify, false, "skip checksum verification (not recommended)")
	fs.String(config.KeyKeyring, "", "OpenPGP keyring to verify SHA256SUMS.asc against")
	fs.String(config.KeyBundleIdentity, "", "certificate subject regexp for SHA256SUMS.sigstore.json")
	fs.String(config.KeyBundleIssuer, "", "OIDC issuer for the Sigstore certificate")
	fs.String(config.KeyTrustedRoot, "", "Sigstore trusted root JSON (default fetched via TUF)")
	fs.String(config.KeyPlatform, "", "install for <os>-<arch> instead of detecting")
	fs.BoolP(config.KeyVerbose, "v", false, "enable debug logging")
}

// loadSettings merges defaults, the profile, the settings file, environment,
// flags, and overrides, and builds the logger. The logger exists before the
// profile is parsed so profile warnings reach stderr.
func loadSettings(cmd *cobra.Command, opts *globalOptions, overrides map[string]any) (*config.Settings, config.Logger, func(), error) {
	verbose := verboseRequested(cmd.Flags())
	logger, flush := config.NewLogger(cmd.ErrOrStderr(), verbose)

	profile, err := loadProfile(cmd.Context(), cmd.Flags(), opts.profile, logger, verbose)
	if err != nil {
		flush()
		return nil, nil, nil, err
	}

	s, err := config.Load(config.LoadOptions{
		Flags:        cmd.Flags(),
		SettingsFile: opts.settings,
		Profile:      profile,
		Overrides:    overrides,
	})
	if err != nil {
		flush()
		return nil, nil, nil, err
	}

	// The settings file may turn on verbose logging.
	if s.Verbose && !verbose {
		flush()
		logger, flush = config.NewLogger(cmd.ErrOrStderr(), true)
	}
	return s, logger, flush, nil
}

// verboseRequested reads --verbose or VMAGENT_VERBOSE ahead of config.Load.
func verboseRequested(fs *pflag.FlagSet) bool {
	if f := fs.Lookup(config.KeyVerbose); f != nil && f.Changed {
		v, _ := fs.GetBool(config.KeyVerbose)
		return v
	}
	v, _ := strconv.ParseBool(os.Getenv(config.EnvPrefix + "_VERBOSE"))
	return v
}

func loadProfile(ctx context.Context, fs *pflag.FlagSet, path string, logger config.Logger, verbose bool) (*config.Profile, error) {
	if path == "" {
		return nil, nil
	}

	var detector platform.Detector = platform.NewDetector()
	pinned, _ := fs.GetString(config.KeyPlatform)
	if pinned == "" {
		pinned = os.Getenv(config.EnvPrefix + "_PLATFORM")
	}
	if pinned != "" {
		info, err := platform.FromCanonical(pinned)
		if err != nil {
			return nil, err
		}
		detector = &platform.StaticDetector{Info: info}
	}

	profile, err := config.NewParser(detector).WithLogger(logger).ParseFile(ctx, path)
	if err != nil {
		return nil, errors.New(config.FormatError(err, verbose))
	}
	return profile, nil
}

func runInstall(cmd *cobra.Command, opts *globalOptions, args []string) error {
	req := installer.Request{}
	overrides := map[string]any{}
	if len(args) > 0 {
		req.OTP = args[0]
	}
	if len(args) > 1 {
		req.ServerURL = args[1]
		overrides[config.KeyServer] = args[1]
	}

	s, logger, flush, err := loadSettings(cmd, opts, overrides)
	if err != nil {
		return err
	}
	defer flush()

	inst, err := installer.New(s, installer.WithLogger(logger), installer.WithUserAgent(userAgent()))
	if err != nil {
		return err
	}

	result, err := inst.Run(cmd.Context(), req)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}
	return err
}

func printResult(w io.Writer, r *installer.Result) {
	fmt.Fprintf(w, "Installed vm-server-agent %s (%s) to %s\n", r.Tag, r.Platform, r.BinaryPath)
	fmt.Fprintf(w, "  sha256:       %s\n", r.SHA256)
	fmt.Fprintf(w, "  verification: %s\n", r.Verification)
	if r.PreviousVersion != "" {
		fmt.Fprintf(w, "  replaced:     %s\n", r.PreviousVersion)
	}

	switch {
	case r.NextSteps != "":
		fmt.Fprintln(w)
		fmt.Fprint(w, r.NextSteps)
	case r.PID > 0:
		fmt.Fprintf(w, "Registered with %s\n", r.ServerURL)
		fmt.Fprintf(w, "Agent started (pid %d), logging to %s\n", r.PID, r.LogFile)
	case r.Registered:
		fmt.Fprintf(w, "Registered with %s (not started)\n", r.ServerURL)
	}
}
