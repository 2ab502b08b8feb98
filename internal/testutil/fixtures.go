package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

// File is a single tar entry.
type File struct {
	Name string
	Body string
	Mode int64
}

// TarGz builds a gzip-compressed tarball in memory.
func TarGz(t *testing.T, files ...File) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, f := range files {
		mode := f.Mode
		if mode == 0 {
			mode = 0o755
		}
		hdr := &tar.Header{
			Name:     f.Name,
			Mode:     mode,
			Size:     int64(len(f.Body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(f.Body)); err != nil {
			t.Fatalf("write tar body: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// SHA256Hex returns the lowercase hex digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Manifest renders a SHA256SUMS file for the given name -> content pairs.
func Manifest(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", SHA256Hex(files[name]), name)
	}
	return b.String()
}

// WriteFile writes data under dir and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// FakeAgent returns a POSIX shell script honoring the agent's command-line
// contract. Every invocation appends its arguments to callsFile. A register
// call exits with registerExit.
func FakeAgent(callsFile, version string, registerExit int) string {
	return fmt.Sprintf(`#!/bin/sh
echo "$*" >> %q
case "$1" in
  --version)
    echo "vm-server-agent version %s"
    ;;
  --help)
    echo "usage: vm-server-agent [--register --otp OTP --server URL] [--config PATH]"
    ;;
  --register)
    echo "registering with $5"
    exit %d
    ;;
  *)
    echo "agent running"
    ;;
esac
`, callsFile, version, registerExit)
}

// WriteFakeAgent writes FakeAgent to dir/vm-server-agent with mode 0755.
// Tests that execute it are skipped on Windows.
func WriteFakeAgent(t *testing.T, dir, callsFile string, registerExit int) string {
	t.Helper()
	RequireShell(t)

	path := filepath.Join(dir, "vm-server-agent")
	if err := os.WriteFile(path, []byte(FakeAgent(callsFile, "1.4.0", registerExit)), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

// RequireShell skips the test when /bin/sh is unavailable.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("fake agent requires /bin/sh")
	}
}

// ReadCalls returns the recorded invocations of a fake agent, one per line.
func ReadCalls(t *testing.T, callsFile string) []string {
	t.Helper()

	data, err := os.ReadFile(callsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read calls: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
