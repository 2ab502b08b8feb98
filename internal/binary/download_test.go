package binary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDownloader(retries int) *Downloader {
	d := NewDownloader(nil)
	d.retries = retries
	d.initialInterval = time.Millisecond
	return d
}

func TestDownloaderDownloadToFile(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		body         string
		wantErr      bool
		wantAttempts int32
	}{
		{
			name:         "successful_download",
			statusCode:   http.StatusOK,
			body:         "test binary content",
			wantAttempts: 1,
		},
		{
			name:         "404_not_found",
			statusCode:   http.StatusNotFound,
			body:         "not found",
			wantErr:      true,
			wantAttempts: 1, // permanent, never retried
		},
		{
			name:         "500_server_error",
			statusCode:   http.StatusInternalServerError,
			body:         "server error",
			wantErr:      true,
			wantAttempts: 3, // first attempt plus two retries
		},
		{
			name:         "429_rate_limited",
			statusCode:   http.StatusTooManyRequests,
			wantErr:      true,
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				if r.Header.Get("User-Agent") != DefaultUserAgent {
					t.Errorf("unexpected User-Agent: %s", r.Header.Get("User-Agent"))
				}

				w.WriteHeader(tt.statusCode)
				if _, err := w.Write([]byte(tt.body)); err != nil {
					t.Errorf("failed to write response: %v", err)
				}
			}))
			defer server.Close()

			tmpDir := t.TempDir()
			downloader := newTestDownloader(2)

			destPath := filepath.Join(tmpDir, "test-file")
			err := downloader.DownloadToFile(context.Background(), server.URL, destPath)

			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.Code != tt.statusCode {
					t.Errorf("expected StatusError with code %d, got %v", tt.statusCode, err)
				}
				if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
					t.Error("failed download left a file behind")
				}
				if _, statErr := os.Stat(destPath + ".tmp"); !os.IsNotExist(statErr) {
					t.Error("failed download left a temp file behind")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			content, err := os.ReadFile(destPath)
			if err != nil {
				t.Fatalf("failed to read downloaded file: %v", err)
			}

			if string(content) != tt.body {
				t.Errorf("content mismatch:\ngot:  %q\nwant: %q", string(content), tt.body)
			}
		})
	}
}

func TestDownloaderRetryLogic(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			// Fail first two attempts
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("success")); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	downloader := newTestDownloader(3)

	destPath := filepath.Join(tmpDir, "test-file")
	if err := downloader.DownloadToFile(context.Background(), server.URL, destPath); err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	content, _ := os.ReadFile(destPath)
	if string(content) != "success" {
		t.Errorf("unexpected content: %s", string(content))
	}
}

func TestDownloaderContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate slow response
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	downloader := newTestDownloader(3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	destPath := filepath.Join(tmpDir, "test-file")
	err := downloader.DownloadToFile(ctx, server.URL, destPath)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}

	if !strings.Contains(err.Error(), "context") {
		t.Errorf("expected context error, got: %v", err)
	}
}

func TestDownloaderShortBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("truncated"))
	}))
	defer server.Close()

	downloader := newTestDownloader(0)
	destPath := filepath.Join(t.TempDir(), "test-file")

	if err := downloader.DownloadToFile(context.Background(), server.URL, destPath); err == nil {
		t.Fatal("expected error for truncated body")
	}

	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Error("truncated download should not be renamed into place")
	}
}

func TestStatusErrorRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		err := &StatusError{URL: "https://example.com/x", Code: tt.code}
		if got := err.retryable(); got != tt.want {
			t.Errorf("retryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
		if !strings.Contains(err.Error(), "https://example.com/x") {
			t.Errorf("error should name the URL: %v", err)
		}
	}
}
