//go:build !windows

package agent

import (
	"os/exec"
	"syscall"
)

// detach starts the agent in its own session so it survives the installer's
// terminal closing.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
