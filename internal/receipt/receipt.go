// Package receipt records what the installer put on a host so later runs
// (status, uninstall, upgrades) can report on it without asking the agent.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
	"go.yaml.in/yaml/v3"
)

// FileName is the receipt's name inside the agent config directory.
const FileName = "install-receipt.yaml"

// Receipt describes a completed install.
type Receipt struct {
	ID           string    `yaml:"id"`
	Version      string    `yaml:"version"`
	Platform     string    `yaml:"platform"`
	BinaryPath   string    `yaml:"binary_path"`
	ConfigPath   string    `yaml:"config_path"`
	SHA256       string    `yaml:"sha256"`
	Verification string    `yaml:"verification"`
	Hostname     string    `yaml:"hostname,omitempty"`
	HostID       string    `yaml:"host_id,omitempty"`
	InstalledAt  time.Time `yaml:"installed_at"`
	Registered   bool      `yaml:"registered"`
	ServerURL    string    `yaml:"server_url,omitempty"`
	PID          int       `yaml:"pid,omitempty"`
}

// Fields are the install facts a receipt is built from.
type Fields struct {
	Version      string
	Platform     string
	BinaryPath   string
	ConfigPath   string
	SHA256       string
	Verification string
}

// New builds a receipt stamped with a fresh ID and clock.Now().
func New(ctx context.Context, clock Clock, f Fields) *Receipt {
	if clock == nil {
		clock = RealClock{}
	}

	r := &Receipt{
		ID:           uuid.New().String(),
		Version:      f.Version,
		Platform:     f.Platform,
		BinaryPath:   f.BinaryPath,
		ConfigPath:   f.ConfigPath,
		SHA256:       f.SHA256,
		Verification: f.Verification,
		InstalledAt:  clock.Now(),
	}

	// Host identity is informational; a failed lookup leaves it blank.
	if info, err := host.InfoWithContext(ctx); err == nil {
		r.Hostname = info.Hostname
		r.HostID = info.HostID
	} else if name, err := os.Hostname(); err == nil {
		r.Hostname = name
	}

	return r
}

// Path returns the receipt location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Save writes r atomically to dir/install-receipt.yaml with 0600 permissions.
func Save(dir string, r *Receipt) error {
	if r == nil {
		return errors.New("receipt is nil")
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create receipt dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".receipt-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close receipt: %w", err)
	}

	if err := os.Rename(tmpPath, Path(dir)); err != nil {
		return fmt.Errorf("rename receipt: %w", err)
	}
	return nil
}

// Load reads the receipt in dir. A missing receipt returns (nil, nil).
func Load(dir string) (*Receipt, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read receipt: %w", err)
	}

	var r Receipt
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse receipt %s: %w", Path(dir), err)
	}
	return &r, nil
}

// Remove deletes the receipt in dir. A missing receipt is not an error.
func Remove(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove receipt: %w", err)
	}
	return nil
}
