package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ReleaseServer mocks the release index API and the download endpoint on a
// single httptest server. Use URL as both the API base and download base.
type ReleaseServer struct {
	*httptest.Server

	Repo string
	Tag  string

	mu         sync.Mutex
	files      map[string][]byte
	requests   map[string]int
	userAgents map[string]string
	// Fail maps a request path to a status code returned instead of content.
	Fail map[string]int
}

// NewReleaseServer starts a server publishing tag with the given assets.
// It is closed on test cleanup.
func NewReleaseServer(t *testing.T, repo, tag string, assets map[string][]byte) *ReleaseServer {
	t.Helper()

	rs := &ReleaseServer{
		Repo:       repo,
		Tag:        tag,
		files:      assets,
		requests:   make(map[string]int),
		userAgents: make(map[string]string),
		Fail:       make(map[string]int),
	}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

// AssetPath returns the request path of a release asset.
func (rs *ReleaseServer) AssetPath(name string) string {
	return fmt.Sprintf("/%s/releases/download/%s/%s", rs.Repo, rs.Tag, name)
}

// Requests returns how many times path was requested.
func (rs *ReleaseServer) Requests(path string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[path]
}

// UserAgent returns the User-Agent of the last request for path.
func (rs *ReleaseServer) UserAgent(path string) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.userAgents[path]
}

func (rs *ReleaseServer) serve(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	rs.requests[r.URL.Path]++
	rs.userAgents[r.URL.Path] = r.Header.Get("User-Agent")
	code, failing := rs.Fail[r.URL.Path]
	rs.mu.Unlock()

	if failing {
		w.WriteHeader(code)
		return
	}

	switch r.URL.Path {
	case fmt.Sprintf("/repos/%s/releases/latest", rs.Repo),
		fmt.Sprintf("/repos/%s/releases/tags/%s", rs.Repo, rs.Tag):
		rs.writeRelease(w)
		return
	}

	prefix := fmt.Sprintf("/%s/releases/download/%s/", rs.Repo, rs.Tag)
	if name, ok := strings.CutPrefix(r.URL.Path, prefix); ok {
		if data, ok := rs.files[name]; ok {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(data)
			return
		}
	}

	http.NotFound(w, r)
}

func (rs *ReleaseServer) writeRelease(w http.ResponseWriter) {
	type asset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int    `json:"size"`
	}

	assets := make([]asset, 0, len(rs.files))
	for name, data := range rs.files {
		assets = append(assets, asset{
			Name:               name,
			BrowserDownloadURL: rs.URL + rs.AssetPath(name),
			Size:               len(data),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tag_name": rs.Tag,
		"name":     rs.Tag,
		"assets":   assets,
	})
}
