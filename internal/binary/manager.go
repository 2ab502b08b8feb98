package binary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vm-server/agent-installer/internal/config"
	"github.com/vm-server/agent-installer/internal/release"
	"github.com/vm-server/agent-installer/internal/transaction"
)

// Manager orchestrates agent download, verification, and installation
type Manager struct {
	installPath string
	configDir   string
	workDir     string
	downloader  *Downloader
	verifier    *Verifier
	extractor   *Extractor
	logger      config.Logger
}

// Config holds configuration for the binary manager
type Config struct {
	// InstallPath is the fixed agent path (default: /usr/local/bin/vm-server-agent)
	InstallPath string
	// ConfigDir is created if absent (default: /etc/vm-server-agent)
	ConfigDir string
	// WorkDir is the parent for per-run temp directories (default: os.TempDir())
	WorkDir string
	// KeyringPath enables OpenPGP verification of SHA256SUMS
	KeyringPath string
	// Bundle enables Sigstore verification of SHA256SUMS
	Bundle *BundleIdentity
	// HTTPClient overrides the download client
	HTTPClient *http.Client
	Logger     config.Logger
}

// NewManager creates a new binary manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.InstallPath == "" {
		return nil, fmt.Errorf("InstallPath is required")
	}
	if !filepath.IsAbs(cfg.InstallPath) {
		return nil, fmt.Errorf("InstallPath must be absolute: %s", cfg.InstallPath)
	}
	if cfg.ConfigDir == "" {
		return nil, fmt.Errorf("ConfigDir is required")
	}

	logger := config.OrNop(cfg.Logger)
	downloader := NewDownloader(logger)
	if cfg.HTTPClient != nil {
		downloader.SetHTTPClient(cfg.HTTPClient)
	}

	return &Manager{
		installPath: cfg.InstallPath,
		configDir:   cfg.ConfigDir,
		workDir:     cfg.WorkDir,
		downloader:  downloader,
		verifier:    NewVerifier(cfg.KeyringPath, cfg.Bundle, logger),
		extractor:   NewExtractor(),
		logger:      logger,
	}, nil
}

// BinaryPath returns the filesystem path of the installed agent
func (m *Manager) BinaryPath() string {
	return m.installPath
}

// ConfigDir returns the agent configuration directory
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// IsInstalled checks if the agent is already installed and executable
func (m *Manager) IsInstalled() (bool, error) {
	info, err := os.Stat(m.installPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat binary: %w", err)
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	return info.Mode().Perm()&0111 != 0, nil
}

// Download fetches the artifact and SHA256SUMS into dir and verifies them.
// On error the caller owns dir and must remove it.
func (m *Manager) Download(ctx context.Context, dir string, opts InstallOptions) (*DownloadResult, error) {
	start := time.Now()
	art := opts.Artifact

	archivePath := filepath.Join(dir, art.Name)
	m.logger.Info("downloading agent", "tag", art.Tag, "url", art.URL)
	if err := m.downloader.DownloadToFile(ctx, art.URL, archivePath); err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}

	sum, err := calculateSHA256(archivePath)
	if err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}
	result := &DownloadResult{ArchivePath: archivePath, SHA256: sum}

	if opts.SkipVerify {
		m.logger.Warn("checksum verification skipped; installing unverified binary", "file", art.Name)
		result.DownloadTime = time.Since(start)
		return result, nil
	}

	manifestPath := filepath.Join(dir, release.ChecksumManifest)
	if err := m.downloader.DownloadToFile(ctx, art.ChecksumsURL, manifestPath); err != nil {
		return nil, fmt.Errorf("download checksums: %w", err)
	}

	if m.verifier.RequiresSignature() {
		sigPath := manifestPath + ".asc"
		if err := m.downloader.DownloadToFile(ctx, art.SignatureURL, sigPath); err != nil {
			return nil, fmt.Errorf("download signature: %w", err)
		}
		if _, err := m.verifier.VerifyManifestSignature(manifestPath, sigPath); err != nil {
			return nil, err
		}
		result.Verified = append(result.Verified, VerificationGPG)
	}

	if m.verifier.RequiresBundle() {
		bundlePath := manifestPath + ".sigstore.json"
		if err := m.downloader.DownloadToFile(ctx, art.BundleURL, bundlePath); err != nil {
			return nil, fmt.Errorf("download sigstore bundle: %w", err)
		}
		if _, err := m.verifier.VerifyManifestBundle(manifestPath, bundlePath); err != nil {
			return nil, err
		}
		result.Verified = append(result.Verified, VerificationSigstore)
	}

	if _, err := m.verifier.VerifyChecksum(archivePath, manifestPath); err != nil {
		return nil, err
	}
	result.Verified = append([]VerificationMethod{VerificationSHA256}, result.Verified...)

	m.logger.Info("artifact verified", "file", art.Name, "methods", JoinMethods(result.Verified))
	result.DownloadTime = time.Since(start)
	return result, nil
}

// Install downloads, verifies, extracts, and installs the agent binary at
// the install path. An existing binary is restored if any step after the
// swap fails. Temporary files are removed on every return path.
func (m *Manager) Install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	if opts.Artifact == nil {
		return nil, fmt.Errorf("artifact is required")
	}
	start := time.Now()

	workDir, err := os.MkdirTemp(m.workDir, "vmagent-install-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dl, err := m.Download(ctx, workDir, opts)
	if err != nil {
		return nil, err
	}

	extracted := filepath.Join(workDir, "extract", release.BinaryName)
	if err := m.extractor.ExtractBinary(dl.ArchivePath, extracted, release.BinaryName); err != nil {
		return nil, fmt.Errorf("extract binary: %w", err)
	}

	txn := transaction.New(transaction.OperationInstall)
	replaced, err := m.place(extracted, txn)
	if err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			m.logger.Error("rollback failed", "txn", txn.ID, "error", rbErr)
		}
		return nil, permissionHint(err)
	}

	if err := txn.Commit(); err != nil {
		m.logger.Warn("could not clean up backup", "txn", txn.ID, "error", err)
	}

	m.logger.Info("agent installed", "path", m.installPath, "tag", opts.Artifact.Tag)
	return &InstallResult{
		Path:     m.installPath,
		Tag:      opts.Artifact.Tag,
		SHA256:   dl.SHA256,
		Verified: dl.Verified,
		Replaced: replaced,
		Duration: time.Since(start),
	}, nil
}

// place moves the extracted binary into the install path and ensures the
// config directory, journaling every change in txn.
func (m *Manager) place(extracted string, txn *transaction.Txn) (bool, error) {
	binDir := filepath.Dir(m.installPath)
	if err := ensureDir(binDir, txn); err != nil {
		return false, fmt.Errorf("create install dir: %w", err)
	}

	// Stage next to the target so the final rename never crosses filesystems.
	staged := m.installPath + ".new"
	if err := copyFile(extracted, staged, 0755); err != nil {
		os.Remove(staged)
		return false, fmt.Errorf("stage binary: %w", err)
	}

	if err := txn.Replace(m.installPath); err != nil {
		os.Remove(staged)
		return false, err
	}

	if err := os.Rename(staged, m.installPath); err != nil {
		os.Remove(staged)
		return false, fmt.Errorf("install binary: %w", err)
	}

	if err := SetExecutable(m.installPath); err != nil {
		return false, err
	}

	if err := ensureDir(m.configDir, txn); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}

	return txn.Replaced(), nil
}

// Uninstall removes the agent binary and, with purge, the config directory.
// A missing binary is not an error.
func (m *Manager) Uninstall(ctx context.Context, purge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The binary is moved aside first so a failed purge can put it back.
	txn := transaction.New(transaction.OperationUninstall)
	if err := txn.Replace(m.installPath); err != nil {
		return permissionHint(fmt.Errorf("remove binary: %w", err))
	}

	if purge {
		if err := os.RemoveAll(m.configDir); err != nil {
			if rbErr := txn.Rollback(); rbErr != nil {
				m.logger.Error("uninstall rollback failed", "txn", txn.ID, "error", rbErr)
			}
			return permissionHint(fmt.Errorf("remove config dir: %w", err))
		}
	}

	if err := txn.Commit(); err != nil {
		return permissionHint(fmt.Errorf("remove binary: %w", err))
	}

	m.logger.Info("agent binary removed", "path", m.installPath, "txn", txn.ID)
	if purge {
		m.logger.Info("config directory removed", "path", m.configDir)
	}
	return nil
}

func ensureDir(dir string, txn *transaction.Txn) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	// Record the topmost missing ancestor so rollback removes all of it.
	top := dir
	for {
		parent := filepath.Dir(top)
		if parent == top {
			break
		}
		if _, err := os.Stat(parent); err == nil {
			break
		}
		top = parent
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	txn.Created(top)
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}

func permissionHint(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}
	return err
}
