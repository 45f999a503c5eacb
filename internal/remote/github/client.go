// Package github implements the remote store contract over the GitHub
// REST API.
//
// Entry files live under a configurable base path on one branch. Writes
// go through the contents API, which gives per-file optimistic
// concurrency via blob SHAs; listing resolves the branch tip once and
// reads the whole tree at that commit, so a listing is a consistent
// snapshot even while others are pushing.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/marksync/marksync/internal/remote"
)

const defaultAPIBase = "https://api.github.com"

// Config holds the repository coordinates and credential.
type Config struct {
	// Owner and Repo identify the repository.
	Owner string
	Repo  string
	// Branch is the branch holding the bookmark files.
	Branch string
	// BasePath is the directory inside the repository under which all
	// entry files live ("" = repository root).
	BasePath string
	// Token is a personal access token with contents read/write scope.
	Token string
	// APIBase overrides the API endpoint, for GitHub Enterprise and
	// tests. Defaults to the public API.
	APIBase string
	// Timeout bounds every request so a stalled connection cannot hold
	// the engine's single-flight guard indefinitely.
	Timeout time.Duration
}

// Client talks to one repository. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client from the config, applying defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// repoPath prefixes an engine-relative path with the base path.
func (c *Client) repoPath(p string) string {
	if c.cfg.BasePath == "" {
		return p
	}
	return path.Join(c.cfg.BasePath, p)
}

type contentsResponse struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type writeResponse struct {
	Content *struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// GetFile implements remote.Store.
func (c *Client) GetFile(ctx context.Context, p string) (*remote.File, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, escapePath(c.repoPath(p)), url.QueryEscape(c.cfg.Branch))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}
	var resp contentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding contents response: %v", remote.ErrTransport, err)
	}
	content, err := decodeContent(resp.Content)
	if err != nil {
		return nil, err
	}
	return &remote.File{Path: p, Content: content, SHA: resp.SHA}, nil
}

// PutFile implements remote.Store. An empty expectedSHA creates the
// file; a stale expectedSHA surfaces as remote.ErrRemoteConflict.
func (c *Client) PutFile(ctx context.Context, p string, content []byte, message, expectedSHA string) (*remote.File, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, escapePath(c.repoPath(p)))
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  c.cfg.Branch,
	}
	if expectedSHA != "" {
		payload["sha"] = expectedSHA
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// A create (no sha) against an existing path fails 422 just like a
	// stale update, and both mean the same thing here: the remote moved
	// under us.
	body, err := c.do(ctx, http.MethodPut, endpoint, reqBody, true)
	if err != nil {
		return nil, err
	}
	var resp writeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding write response: %v", remote.ErrTransport, err)
	}
	f := &remote.File{Path: p, Content: content, CommitSHA: resp.Commit.SHA}
	if resp.Content != nil {
		f.SHA = resp.Content.SHA
	}
	return f, nil
}

// DeleteFile implements remote.Store.
func (c *Client) DeleteFile(ctx context.Context, p string, message, expectedSHA string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, escapePath(c.repoPath(p)))
	payload := map[string]string{
		"message": message,
		"sha":     expectedSHA,
		"branch":  c.cfg.Branch,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, endpoint, reqBody, true)
	return err
}

type branchResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type treeResponse struct {
	SHA       string `json:"sha"`
	Truncated bool   `json:"truncated"`
	Tree      []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"tree"`
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// ListTree implements remote.Store. The branch tip is resolved once and
// every blob is read at that commit, giving a point-in-time snapshot.
func (c *Client) ListTree(ctx context.Context) (*remote.Listing, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/branches/%s",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, url.PathEscape(c.cfg.Branch))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}
	var branch branchResponse
	if err := json.Unmarshal(body, &branch); err != nil {
		return nil, fmt.Errorf("%w: decoding branch response: %v", remote.ErrTransport, err)
	}

	endpoint = fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, branch.Commit.SHA)
	body, err = c.do(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}
	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("%w: decoding tree response: %v", remote.ErrTransport, err)
	}
	if tree.Truncated {
		return nil, fmt.Errorf("%w: tree listing truncated by the API", remote.ErrTransport)
	}

	prefix := ""
	if c.cfg.BasePath != "" {
		prefix = c.cfg.BasePath + "/"
	}

	listing := &remote.Listing{CommitSHA: branch.Commit.SHA}
	for _, node := range tree.Tree {
		if node.Type != "blob" {
			continue
		}
		rel := node.Path
		if prefix != "" {
			if !strings.HasPrefix(node.Path, prefix) {
				continue
			}
			rel = strings.TrimPrefix(node.Path, prefix)
		}
		if !remote.IsEntryPath(rel) {
			continue
		}
		content, err := c.readBlob(ctx, node.SHA)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		listing.Files = append(listing.Files, remote.File{Path: rel, Content: content, SHA: node.SHA})
	}
	return listing, nil
}

func (c *Client) readBlob(ctx context.Context, sha string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s",
		c.cfg.APIBase, c.cfg.Owner, c.cfg.Repo, sha)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}
	var blob blobResponse
	if err := json.Unmarshal(body, &blob); err != nil {
		return nil, fmt.Errorf("%w: decoding blob response: %v", remote.ErrTransport, err)
	}
	return decodeContent(blob.Content)
}

// do runs one request and maps HTTP failures onto the remote error
// kinds. conditionalWrite widens 409/422 into ErrRemoteConflict, which
// only makes sense for sha-guarded writes.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, conditionalWrite bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", remote.ErrTransport, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", remote.ErrAuthentication, apiMessage(data))
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return nil, fmt.Errorf("%w: %s", remote.ErrRateLimited, apiMessage(data))
		}
		return nil, fmt.Errorf("%w: %s", remote.ErrAccessDenied, apiMessage(data))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", remote.ErrNotFound, method, endpoint)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", remote.ErrRateLimited, apiMessage(data))
	case conditionalWrite && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity):
		return nil, fmt.Errorf("%w: %s", remote.ErrRemoteConflict, apiMessage(data))
	default:
		return nil, fmt.Errorf("%w: unexpected status %d: %s", remote.ErrTransport, resp.StatusCode, apiMessage(data))
	}
}

func apiMessage(data []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return string(data)
}

func decodeContent(encoded string) ([]byte, error) {
	cleaned := strings.ReplaceAll(encoded, "\n", "")
	content, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding file content: %v", remote.ErrTransport, err)
	}
	return content, nil
}

// escapePath escapes each path segment while keeping separators.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
