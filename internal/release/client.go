package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	// DefaultTimeout bounds a single release index request.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent with every index request.
	DefaultUserAgent = "vmagent-install/1.0"
	// maxIndexBody caps the release JSON we are willing to read.
	maxIndexBody = 4 << 20
)

// Client queries the release index.
type Client struct {
	repo       string
	apiBase    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIBase points the client at a different index endpoint.
func WithAPIBase(base string) Option {
	return func(cl *Client) {
		if base != "" {
			cl.apiBase = strings.TrimRight(base, "/")
		}
	}
}

// WithToken sets a bearer token for higher API rate limits.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// NewClient creates a release index client for repo ("owner/name").
func NewClient(repo string, opts ...Option) *Client {
	c := &Client{
		repo:       repo,
		apiBase:    DefaultAPIBase,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest fetches the most recent tagged release.
func (c *Client) Latest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.repo)

	rel, err := c.fetch(ctx, url)
	if err != nil {
		if errors.Is(err, ErrReleaseNotFound) {
			return nil, ErrNoRelease
		}
		return nil, err
	}
	if strings.TrimSpace(rel.TagName) == "" {
		return nil, ErrNoRelease
	}
	return rel, nil
}

// ByTag fetches a specific release. A missing "v" prefix is added.
func (c *Client) ByTag(ctx context.Context, tag string) (*Release, error) {
	tag = NormalizeTag(tag)
	if _, err := semver.NewVersion(tag); err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", tag, err)
	}

	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", c.apiBase, c.repo, tag)
	rel, err := c.fetch(ctx, url)
	if err != nil {
		if errors.Is(err, ErrReleaseNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
		}
		return nil, err
	}
	if rel.TagName == "" {
		rel.TagName = tag
	}
	return rel, nil
}

// Resolve returns the latest release when requested is empty or "latest",
// and the named release otherwise.
func (c *Client) Resolve(ctx context.Context, requested string) (*Release, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" || strings.EqualFold(requested, "latest") {
		return c.Latest(ctx)
	}
	return c.ByTag(ctx, requested)
}

func (c *Client) fetch(ctx context.Context, url string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release index: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrReleaseNotFound
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("release index rate limit exceeded (status %d); set GITHUB_TOKEN for higher limits", resp.StatusCode)
	default:
		return nil, fmt.Errorf("release index returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBody))
	if err != nil {
		return nil, fmt.Errorf("read release index: %w", err)
	}

	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("parse release index: %w", err)
	}
	return &rel, nil
}

// NormalizeTag adds the "v" prefix used by release tags.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag != "" && !strings.HasPrefix(tag, "v") {
		tag = "v" + tag
	}
	return tag
}
