// Package installer runs the end-to-end agent install: platform detection,
// release lookup, verified download, installation, and optional registration
// and start of the agent.
package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vm-server/agent-installer/internal/agent"
	"github.com/vm-server/agent-installer/internal/binary"
	"github.com/vm-server/agent-installer/internal/config"
	"github.com/vm-server/agent-installer/internal/platform"
	"github.com/vm-server/agent-installer/internal/receipt"
	"github.com/vm-server/agent-installer/internal/release"
	"github.com/vm-server/agent-installer/internal/transaction"
)

// Request is a single install run.
type Request struct {
	// OTP registers and starts the agent when set.
	OTP string
	// ServerURL overrides Settings.ServerURL. Empty means the settings value,
	// which defaults to http://localhost:3000.
	ServerURL string
}

// Result describes what an install run did.
type Result struct {
	Platform     string
	Tag          string
	BinaryPath   string
	ConfigPath   string
	SHA256       string
	Verification string
	Replaced     bool
	// PreviousVersion is the output of the replaced agent's --version, if any.
	PreviousVersion string

	ServerURL  string
	Registered bool
	PID        int
	LogFile    string
	// NextSteps holds manual instructions when no OTP was given.
	NextSteps string

	Receipt  *receipt.Receipt
	Duration time.Duration
}

// Installer wires the install pipeline together.
type Installer struct {
	settings *config.Settings
	detector platform.Detector
	releases *release.Client
	manager  *binary.Manager
	agent    agent.Agent
	clock    receipt.Clock
	logger   config.Logger
}

// Option configures an Installer.
type Option func(*options)

type options struct {
	detector   platform.Detector
	httpClient *http.Client
	agent      agent.Agent
	clock      receipt.Clock
	logger     config.Logger
	workDir    string
	userAgent  string
}

// WithDetector replaces platform detection.
func WithDetector(d platform.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithHTTPClient sets the client used for the release index and downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithAgent replaces the runner for the installed binary.
func WithAgent(a agent.Agent) Option {
	return func(o *options) { o.agent = a }
}

// WithClock sets the clock used to stamp receipts.
func WithClock(c receipt.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l config.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithWorkDir sets the parent directory for temporary downloads.
func WithWorkDir(dir string) Option {
	return func(o *options) { o.workDir = dir }
}

// WithUserAgent sets the User-Agent sent to the release index.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// New builds an Installer from resolved settings.
func New(s *config.Settings, opts ...Option) (*Installer, error) {
	if s == nil {
		return nil, errors.New("settings are required")
	}

	o := options{clock: receipt.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := config.OrNop(o.logger)

	detector := o.detector
	if detector == nil {
		if s.Platform != "" {
			info, err := platform.FromCanonical(s.Platform)
			if err != nil {
				return nil, fmt.Errorf("platform override: %w", err)
			}
			detector = &platform.StaticDetector{Info: info}
		} else {
			detector = platform.NewDetector()
		}
	}

	clientOpts := []release.Option{
		release.WithAPIBase(s.APIURL),
		release.WithToken(s.GitHubToken),
		release.WithUserAgent(o.userAgent),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, release.WithHTTPClient(o.httpClient))
	}

	var bundle *binary.BundleIdentity
	if s.BundleIdentity != "" {
		bundle = &binary.BundleIdentity{
			Issuer:          s.BundleIssuer,
			SubjectRegexp:   s.BundleIdentity,
			TrustedRootPath: s.TrustedRoot,
		}
	}

	manager, err := binary.NewManager(binary.Config{
		InstallPath: s.InstallPath,
		ConfigDir:   s.ConfigDir,
		WorkDir:     o.workDir,
		KeyringPath: s.Keyring,
		Bundle:      bundle,
		HTTPClient:  o.httpClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	runner := o.agent
	if runner == nil {
		runner = agent.NewRunner(s.InstallPath, s.ConfigPath(), s.LogFile, logger)
	}

	return &Installer{
		settings: s,
		detector: detector,
		releases: release.NewClient(s.Repo, clientOpts...),
		manager:  manager,
		agent:    runner,
		clock:    o.clock,
		logger:   logger,
	}, nil
}

// Run performs the install. Every step either succeeds or aborts the run;
// temporary files are removed on every path.
func (i *Installer) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	s := i.settings

	serverURL := req.ServerURL
	if serverURL == "" {
		serverURL = s.ServerURL
	}
	if serverURL == "" {
		serverURL = config.DefaultServerURL
	}
	if err := config.ValidateServerURL(serverURL); err != nil {
		return nil, err
	}

	lock, err := transaction.AcquireLock(ctx, s.LockDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	info, err := i.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}
	i.logger.Info("detected platform", "platform", info.Canonical, "arch_raw", info.ArchRaw)

	rel, err := i.releases.Resolve(ctx, s.VersionTag)
	if err != nil {
		return nil, fmt.Errorf("resolve version: %w", err)
	}
	i.logger.Info("resolved release", "repo", s.Repo, "tag", rel.TagName)

	art := release.NewArtifact(s.DownloadURL, s.Repo, rel.TagName, info.Canonical)
	if len(rel.Assets) > 0 && !rel.HasAsset(art.Name) {
		return nil, fmt.Errorf("release %s has no artifact for %s (%s)", rel.TagName, info.Canonical, art.Name)
	}

	previous := i.previousVersion(ctx, rel)

	installed, err := i.manager.Install(ctx, binary.InstallOptions{
		Artifact:   art,
		SkipVerify: s.SkipVerify,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Platform:        info.Canonical,
		Tag:             installed.Tag,
		BinaryPath:      installed.Path,
		ConfigPath:      s.ConfigPath(),
		SHA256:          installed.SHA256,
		Verification:    binary.JoinMethods(installed.Verified),
		Replaced:        installed.Replaced,
		PreviousVersion: previous,
		ServerURL:       serverURL,
		LogFile:         s.LogFile,
	}

	rec := receipt.New(ctx, i.clock, receipt.Fields{
		Version:      result.Tag,
		Platform:     result.Platform,
		BinaryPath:   result.BinaryPath,
		ConfigPath:   result.ConfigPath,
		SHA256:       result.SHA256,
		Verification: result.Verification,
	})
	result.Receipt = rec
	if err := receipt.Save(i.manager.ConfigDir(), rec); err != nil {
		i.logger.Warn("could not write install receipt", "error", err)
	}

	if req.OTP == "" {
		result.NextSteps = agent.NextSteps(result.BinaryPath, result.ConfigPath, s.LogFile, serverURL)
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := i.agent.Register(ctx, req.OTP, serverURL); err != nil {
		return result, err
	}
	result.Registered = true
	rec.Registered = true
	rec.ServerURL = serverURL

	if !s.NoStart {
		pid, err := i.agent.Start(ctx)
		if err != nil {
			return result, err
		}
		result.PID = pid
		rec.PID = pid
	}

	if err := receipt.Save(i.manager.ConfigDir(), rec); err != nil {
		i.logger.Warn("could not update install receipt", "error", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// previousVersion probes an existing agent before it is replaced.
func (i *Installer) previousVersion(ctx context.Context, rel *release.Release) string {
	if ok, _ := i.manager.IsInstalled(); !ok {
		return ""
	}

	out, err := i.agent.Version(ctx)
	if err != nil {
		i.logger.Debug("existing agent did not report a version", "error", err)
		return ""
	}

	current, err := release.ParseVersionOutput(out)
	if err != nil {
		return out
	}
	if candidate, err := rel.Version(); err == nil && release.IsUpToDate(current, candidate) {
		i.logger.Info("installed agent is already up to date; reinstalling", "installed", current.String(), "tag", rel.TagName)
	} else {
		i.logger.Info("upgrading agent", "installed", current.String(), "tag", rel.TagName)
	}
	return current.String()
}
