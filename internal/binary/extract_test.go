package binary

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/vm-server/agent-installer/internal/testutil"
)

func TestExtractBinary(t *testing.T) {
	tests := []struct {
		name        string
		files       []testutil.File
		binaryName  string
		wantContent string
		wantErr     error
	}{
		{
			name:        "binary_at_root",
			files:       []testutil.File{{Name: "vm-server-agent", Body: "agent-root"}},
			binaryName:  "vm-server-agent",
			wantContent: "agent-root",
		},
		{
			name: "binary_in_subdirectory",
			files: []testutil.File{
				{Name: "vm-server-agent-linux-amd64/README.md", Body: "docs", Mode: 0644},
				{Name: "vm-server-agent-linux-amd64/vm-server-agent", Body: "agent-nested"},
			},
			binaryName:  "vm-server-agent",
			wantContent: "agent-nested",
		},
		{
			name:       "binary_missing",
			files:      []testutil.File{{Name: "other-tool", Body: "nope"}},
			binaryName: "vm-server-agent",
			wantErr:    ErrBinaryNotFound,
		},
		{
			name:       "prefix_is_not_a_match",
			files:      []testutil.File{{Name: "vm-server-agent.sig", Body: "sig"}},
			binaryName: "vm-server-agent",
			wantErr:    ErrBinaryNotFound,
		},
	}

	extractor := NewExtractor()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			archivePath := testutil.WriteFile(t, dir, "agent.tar.gz", testutil.TarGz(t, tt.files...))
			destPath := filepath.Join(dir, "out", tt.binaryName)

			err := extractor.ExtractBinary(archivePath, destPath, tt.binaryName)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
					t.Error("no file should be written when extraction fails")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			content, err := os.ReadFile(destPath)
			if err != nil {
				t.Fatalf("read extracted binary: %v", err)
			}
			if string(content) != tt.wantContent {
				t.Errorf("content = %q, want %q", content, tt.wantContent)
			}

			if runtime.GOOS != "windows" {
				info, _ := os.Stat(destPath)
				if info.Mode().Perm()&0111 == 0 {
					t.Errorf("extracted binary is not executable: %v", info.Mode())
				}
			}
		})
	}
}

func TestExtractBinaryInvalidArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := testutil.WriteFile(t, dir, "agent.tar.gz", []byte("definitely not gzip"))

	err := NewExtractor().ExtractBinary(archivePath, filepath.Join(dir, "out"), "vm-server-agent")
	if err == nil {
		t.Fatal("expected error for invalid archive")
	}
	if errors.Is(err, ErrBinaryNotFound) {
		t.Error("corrupt archive should not be reported as a missing binary")
	}
}

func TestSetExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	path := testutil.WriteFile(t, t.TempDir(), "file", []byte("x"))
	if err := SetExecutable(path); err != nil {
		t.Fatalf("SetExecutable: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}
