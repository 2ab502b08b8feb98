package agent

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vm-server/agent-installer/internal/testutil"
)

func newFakeRunner(t *testing.T, registerExit int) (*Runner, string, string) {
	t.Helper()

	dir := t.TempDir()
	calls := filepath.Join(dir, "calls.log")
	bin := testutil.WriteFakeAgent(t, dir, calls, registerExit)
	logFile := filepath.Join(dir, "log", "vm-server-agent.log")

	return NewRunner(bin, filepath.Join(dir, "etc", "config.yaml"), logFile, nil), calls, logFile
}

// Compile-time check
var _ Agent = (*Runner)(nil)

func TestRunnerVersion(t *testing.T) {
	r, calls, _ := newFakeRunner(t, 0)

	got, err := r.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if got != "vm-server-agent version 1.4.0" {
		t.Errorf("Version = %q", got)
	}

	if recorded := testutil.ReadCalls(t, calls); len(recorded) != 1 || recorded[0] != "--version" {
		t.Errorf("calls = %v", recorded)
	}
}

func TestRunnerVersionMissingBinary(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "missing"), "/etc/x.yaml", "/tmp/x.log", nil)

	_, err := r.Version(context.Background())
	if !errors.Is(err, ErrVersion) {
		t.Errorf("expected ErrVersion, got %v", err)
	}
}

func TestRunnerRegister(t *testing.T) {
	tests := []struct {
		name     string
		otp      string
		exitCode int
		wantErr  bool
	}{
		{name: "success", otp: "123456", exitCode: 0},
		{name: "rejected", otp: "999999", exitCode: 3, wantErr: true},
		{name: "empty_otp", otp: "", exitCode: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, calls, _ := newFakeRunner(t, tt.exitCode)

			err := r.Register(context.Background(), tt.otp, "https://vm.example.com")

			if tt.wantErr {
				if !errors.Is(err, ErrRegistration) {
					t.Fatalf("expected ErrRegistration, got %v", err)
				}
				if tt.otp != "" && strings.Contains(err.Error(), tt.otp) {
					t.Errorf("error leaks the passcode: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Register: %v", err)
			}

			recorded := testutil.ReadCalls(t, calls)
			if len(recorded) != 1 {
				t.Fatalf("expected 1 call, got %v", recorded)
			}
			want := "--register --otp 123456 --server https://vm.example.com --config " + r.conf
			if recorded[0] != want {
				t.Errorf("call = %q\nwant  %q", recorded[0], want)
			}
		})
	}
}

func TestRunnerRegisterExitCode(t *testing.T) {
	r, _, _ := newFakeRunner(t, 7)

	err := r.Register(context.Background(), "424242", "http://localhost:3000")

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exec.ExitError in chain, got %v", err)
	}
	if exitErr.ExitCode() != 7 {
		t.Errorf("exit code = %d, want 7", exitErr.ExitCode())
	}
	if !strings.Contains(err.Error(), "exit status 7") {
		t.Errorf("message should include the exit status: %v", err)
	}
}

func TestRunnerRegisterCancelled(t *testing.T) {
	r, _, _ := newFakeRunner(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Register(ctx, "123456", "http://localhost:3000")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunnerStart(t *testing.T) {
	r, calls, logFile := newFakeRunner(t, 0)

	pid, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}

	// The fake agent exits right away; wait for its output to land.
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logFile)
		if strings.Contains(string(data), "agent running") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("log file never received agent output: %q", data)
		}
		time.Sleep(20 * time.Millisecond)
	}

	recorded := testutil.ReadCalls(t, calls)
	if len(recorded) != 1 || recorded[0] != "--config "+r.conf {
		t.Errorf("calls = %v", recorded)
	}
}

func TestRunnerStartAppendsLog(t *testing.T) {
	r, _, logFile := newFakeRunner(t, 0)

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logFile, []byte("previous run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logFile)
		if strings.Contains(string(data), "agent running") {
			if !strings.HasPrefix(string(data), "previous run\n") {
				t.Errorf("log was truncated: %q", data)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("log file never received agent output: %q", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunnerStartMissingBinary(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(filepath.Join(dir, "missing"), "/etc/x.yaml", filepath.Join(dir, "agent.log"), nil)

	if _, err := r.Start(context.Background()); !errors.Is(err, ErrStart) {
		t.Errorf("expected ErrStart, got %v", err)
	}
}

func TestRedactSensitiveInfo(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		secret string
		want   string
	}{
		{
			name:   "secret_replaced",
			msg:    "invalid passcode 123456",
			secret: "123456",
			want:   "invalid passcode <redacted>",
		},
		{
			name: "otp_flag_without_secret",
			msg:  "usage error near --otp abcdef",
			want: "usage error near --otp <redacted>",
		},
		{
			name: "otp_flag_with_equals",
			msg:  "bad flag --otp=abcdef",
			want: "bad flag --otp=<redacted>",
		},
		{
			name: "long_message_truncated",
			msg:  strings.Repeat("x", 300),
			want: strings.Repeat("x", 200) + "...",
		},
		{
			// "é" is two bytes; byte 200 falls inside the 100th one.
			name: "truncated_on_rune_boundary",
			msg:  "x" + strings.Repeat("é", 150),
			want: "x" + strings.Repeat("é", 99) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSensitiveInfo(tt.msg, tt.secret)
			if got != tt.want {
				t.Errorf("redactSensitiveInfo() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("redactSensitiveInfo() returned invalid UTF-8: %q", got)
			}
		})
	}
}

func TestTranslateAgentError(t *testing.T) {
	err := translateAgentError(ErrRegistration, context.DeadlineExceeded, "", "")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrRegistration) {
		t.Errorf("timeout should wrap both sentinels: %v", err)
	}

	err = translateAgentError(ErrStart, errors.New("exec: permission denied for 999"), "", "999")
	if strings.Contains(err.Error(), "999") {
		t.Errorf("secret leaked: %v", err)
	}
	var redacted *RedactedError
	if !errors.As(err, &redacted) {
		t.Errorf("expected RedactedError, got %T", err)
	}
}

func TestNextSteps(t *testing.T) {
	out := NextSteps("/usr/local/bin/vm-server-agent", "/etc/vm-server-agent/config.yaml",
		"/var/log/vm-server-agent.log", "http://localhost:3000")

	for _, want := range []string{
		"/usr/local/bin/vm-server-agent --register --otp <OTP> --server http://localhost:3000",
		"--config /etc/vm-server-agent/config.yaml",
		">> /var/log/vm-server-agent.log 2>&1",
		"vmagent-install <OTP> http://localhost:3000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("next steps missing %q:\n%s", want, out)
		}
	}
}
