// Package testutil provides utilities for testing the installer in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Paths are the isolated install locations created by SetupTestEnv.
type Paths struct {
	Root        string
	InstallPath string
	ConfigDir   string
	LogFile     string
	LockDir     string
}

// SetupTestEnv creates isolated test directories for each test and points
// the VMAGENT_* environment at them. This ensures tests never touch
// /usr/local/bin, /etc or /var/log on the machine running them.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Paths {
	t.Helper()

	tmpDir := t.TempDir()
	p := Paths{
		Root:        tmpDir,
		InstallPath: filepath.Join(tmpDir, "bin", "vm-server-agent"),
		ConfigDir:   filepath.Join(tmpDir, "etc", "vm-server-agent"),
		LogFile:     filepath.Join(tmpDir, "log", "vm-server-agent.log"),
		LockDir:     filepath.Join(tmpDir, "run"),
	}

	t.Setenv("VMAGENT_INSTALL_PATH", p.InstallPath)
	t.Setenv("VMAGENT_CONFIG_DIR", p.ConfigDir)
	t.Setenv("VMAGENT_LOG_FILE", p.LogFile)
	t.Setenv("VMAGENT_LOCK_DIR", p.LockDir)
	t.Setenv("GITHUB_TOKEN", "")

	for _, dir := range []string{filepath.Dir(p.LogFile), p.LockDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return p
}
