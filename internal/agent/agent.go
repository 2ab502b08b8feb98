// Package agent drives the installed VM Server Agent binary through its
// command-line contract:
//
//	vm-server-agent --version
//	vm-server-agent --register --otp <otp> --server <url> --config <path>
//	vm-server-agent --config <path>
//
// The agent's registration protocol and configuration schema are opaque to
// the installer. Registration failures are reported without echoing the
// one-time passcode.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/vm-server/agent-installer/internal/config"
)

// VersionTimeout bounds a --version probe.
const VersionTimeout = 5 * time.Second

// Error types for user-facing errors
var (
	ErrRegistration = errors.New("agent registration failed")
	ErrStart        = errors.New("failed to start agent")
	ErrVersion      = errors.New("failed to query agent version")
)

// RedactedError wraps an error with a user-friendly message while preserving
// the error chain for errors.Is/errors.As checks.
type RedactedError struct {
	message string
	wrapped error
}

// Error returns the redacted error message.
func (e *RedactedError) Error() string {
	return e.message
}

// Unwrap returns the wrapped error, preserving the error chain.
func (e *RedactedError) Unwrap() error {
	return e.wrapped
}

// Agent is the interface for operations on the installed agent.
type Agent interface {
	Version(ctx context.Context) (string, error)
	Register(ctx context.Context, otp, serverURL string) error
	Start(ctx context.Context) (int, error)
}

// Runner implements Agent by executing the installed binary.
type Runner struct {
	bin     string // e.g. /usr/local/bin/vm-server-agent
	conf    string // e.g. /etc/vm-server-agent/config.yaml
	logFile string // e.g. /var/log/vm-server-agent.log
	logger  config.Logger
}

// NewRunner creates a runner for the agent at bin.
func NewRunner(bin, configPath, logFile string, logger config.Logger) *Runner {
	return &Runner{
		bin:     bin,
		conf:    configPath,
		logFile: logFile,
		logger:  config.OrNop(logger),
	}
}

// Version runs `<bin> --version` and returns its trimmed output.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, VersionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin, "--version")
	cmd.Env = scrubbedEnv()

	out, err := cmd.Output()
	if err != nil {
		return "", translateAgentError(ErrVersion, withContext(ctx, err), "", "")
	}
	return strings.TrimSpace(string(out)), nil
}

// Register runs the agent's one-shot registration against serverURL. A
// non-zero exit is an error.
func (r *Runner) Register(ctx context.Context, otp, serverURL string) error {
	if otp == "" {
		return fmt.Errorf("%w: one-time passcode is required", ErrRegistration)
	}

	args := []string{
		"--register",
		"--otp", otp,
		"--server", serverURL,
		"--config", r.conf,
	}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Env = scrubbedEnv()

	r.logger.Info("registering agent", "server", serverURL)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return translateAgentError(ErrRegistration, withContext(ctx, err), string(out), otp)
	}

	r.logger.Debug("agent registered", "output", redactSensitiveInfo(strings.TrimSpace(string(out)), otp))
	return nil
}

// Start launches `<bin> --config <path>` detached from the installer, with
// stdout and stderr appended to the log file. It returns the PID and does not
// wait for or supervise the process.
func (r *Runner) Start(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(r.logFile), 0755); err != nil {
		return 0, fmt.Errorf("%w: create log dir: %w", ErrStart, err)
	}

	logFile, err := os.OpenFile(r.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: open log file: %w", ErrStart, err)
	}
	defer logFile.Close()

	// Not CommandContext: the agent must outlive the installer.
	cmd := exec.Command(r.bin, "--config", r.conf)
	cmd.Env = scrubbedEnv()
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = "/"
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStart, err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		r.logger.Warn("release agent process", "pid", pid, "error", err)
	}

	r.logger.Info("agent started", "pid", pid, "log", r.logFile)
	return pid, nil
}

// scrubbedEnv passes through only what the agent needs to run.
func scrubbedEnv() []string {
	env := []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"USER=" + os.Getenv("USER"),
		"LANG=" + os.Getenv("LANG"),
	}
	for _, key := range []string{"HTTPS_PROXY", "HTTP_PROXY", "NO_PROXY", "SSL_CERT_FILE"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// translateAgentError maps exec failures to user-facing errors wrapping
// sentinel, with secret removed from anything echoed back.
func translateAgentError(sentinel, err error, output, secret string) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: operation cancelled: %w", sentinel, context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: operation timed out: %w", sentinel, context.DeadlineExceeded)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("%s: exit status %d", sentinel, exitErr.ExitCode())
		if detail := redactSensitiveInfo(strings.TrimSpace(output), secret); detail != "" {
			msg += ": " + detail
		}
		return &RedactedError{message: msg, wrapped: fmt.Errorf("%w: %w", sentinel, err)}
	}

	return &RedactedError{
		message: fmt.Sprintf("%s: %s", sentinel, redactSensitiveInfo(err.Error(), secret)),
		wrapped: fmt.Errorf("%w: %w", sentinel, err),
	}
}

// withContext prefers the context's error when it caused the exec failure.
func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

var otpFlagPattern = regexp.MustCompile(`(--otp[= ])\S+`)

// redactSensitiveInfo removes the passcode from agent output and limits
// message length.
func redactSensitiveInfo(msg, secret string) string {
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "<redacted>")
	}
	msg = otpFlagPattern.ReplaceAllString(msg, "${1}<redacted>")

	const maxLen = 200
	if len(msg) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
