package installer

import (
	"context"

	"github.com/vm-server/agent-installer/internal/receipt"
	"github.com/vm-server/agent-installer/internal/transaction"
)

// Status is what the host currently has installed.
type Status struct {
	BinaryPath string
	Installed  bool
	// Version is the agent's own --version output.
	Version      string
	VersionError error
	Receipt      *receipt.Receipt
}

// Status reports the installed agent without changing anything.
func (i *Installer) Status(ctx context.Context) (*Status, error) {
	st := &Status{BinaryPath: i.manager.BinaryPath()}

	installed, err := i.manager.IsInstalled()
	if err != nil {
		return nil, err
	}
	st.Installed = installed

	if installed {
		st.Version, st.VersionError = i.agent.Version(ctx)
	}

	rec, err := receipt.Load(i.manager.ConfigDir())
	if err != nil {
		return nil, err
	}
	st.Receipt = rec

	return st, nil
}

// Uninstall removes the agent binary and its receipt. With purge the whole
// config directory goes too. A running agent is not stopped.
func (i *Installer) Uninstall(ctx context.Context, purge bool) error {
	lock, err := transaction.AcquireLock(ctx, i.settings.LockDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := i.manager.Uninstall(ctx, purge); err != nil {
		return err
	}

	if !purge {
		if err := receipt.Remove(i.manager.ConfigDir()); err != nil {
			return err
		}
	}
	return nil
}
