package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/vm-server/agent-installer/internal/config"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "vmagent-install/1.0"
)

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status code: %d", e.URL, e.Code)
}

// retryable reports whether a status code is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Downloader handles HTTP downloads with retry logic
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	// initialInterval is the first backoff delay; it doubles per attempt.
	initialInterval time.Duration
	logger          config.Logger
}

// NewDownloader creates a new downloader
func NewDownloader(logger config.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:       DefaultUserAgent,
		retries:         DefaultRetries,
		initialInterval: time.Second,
		logger:          config.OrNop(logger),
	}
}

// SetHTTPClient replaces the HTTP client.
func (d *Downloader) SetHTTPClient(c *http.Client) {
	if c != nil {
		d.client = c
	}
}

// DownloadToFile downloads a URL to a specific file path. Transport errors and
// 5xx/429 responses are retried with exponential backoff (1s, 2s, 4s); other
// statuses fail immediately.
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initialInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.retries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := d.downloadOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return backoff.Permanent(err)
		}

		d.logger.Warn("download attempt failed", "url", url, "attempt", attempt, "error", err)
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanupNeeded = false

	d.logger.Debug("downloaded", "file", filepath.Base(destPath),
		"size", humanize.Bytes(uint64(n)), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
