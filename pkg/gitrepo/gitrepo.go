// Package gitrepo creates remote repositories through the GitHub REST API
// and drives the local working tree with the git binary.
package gitrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/fabriq/fabriq/pkg/models"
)

const defaultAPIBase = "https://api.github.com"

// commitIdentity used for all pipeline commits.
const (
	commitEmail = "pipeline@fabriq.dev"
	commitName  = "fabriq"
)

// ErrAlreadyExists is returned by CreateRepo when the remote repo exists;
// callers reuse it.
var ErrAlreadyExists = fmt.Errorf("repository already exists")

// Client is the source-hosting adapter. A zero-credential client reports
// not configured and the scaffold runner stays local-only.
type Client struct {
	apiBase    string
	owner      string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIBase overrides the GitHub API endpoint, used by tests.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a repo adapter for the given owner and token.
func NewClient(owner, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiBase:    defaultAPIBase,
		owner:      owner,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.owner != "" && c.token != ""
}

// Owner returns the configured repository owner.
func (c *Client) Owner() string { return c.owner }

// CreateRepo creates a repository under the configured owner. HTTP 409 and
// 422 mean the repo already exists; the returned info is still valid and
// the error is ErrAlreadyExists so the caller can reuse it.
func (c *Client) CreateRepo(ctx context.Context, name, description string) (*models.GitHubInfo, error) {
	body, _ := json.Marshal(map[string]any{
		"name":        name,
		"description": description,
		"private":     false,
		"auto_init":   false,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/user/repos", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create repo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create repo %s: %w", name, err)
	}
	defer resp.Body.Close()

	info := &models.GitHubInfo{
		Owner: c.owner,
		Repo:  name,
		URL:   fmt.Sprintf("https://github.com/%s/%s", c.owner, name),
	}

	switch {
	case resp.StatusCode == http.StatusCreated:
		return info, nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return info, ErrAlreadyExists
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, fmt.Errorf("create repo %s: status %d: %s", name, resp.StatusCode, snippet)
	}
}

// AuthedURL returns the https remote URL with the token embedded, for
// clone and push.
func (c *Client) AuthedURL(owner, repo string) string {
	return fmt.Sprintf("https://%s:%s@github.com/%s/%s.git", owner, c.token, owner, repo)
}

// Clone makes a shallow clone of url into dest and sets the commit
// identity.
func (c *Client) Clone(ctx context.Context, url, dest string) error {
	if out, err := runGit(ctx, "", "clone", "--depth", "1", url, dest); err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}
	return c.setIdentity(ctx, dest)
}

// InitRepo initializes a fresh repository in dir for the local-only path,
// when no remote could be created.
func (c *Client) InitRepo(ctx context.Context, dir string) error {
	if out, err := runGit(ctx, dir, "init"); err != nil {
		return fmt.Errorf("git init: %w: %s", err, out)
	}
	return c.setIdentity(ctx, dir)
}

func (c *Client) setIdentity(ctx context.Context, dir string) error {
	if out, err := runGit(ctx, dir, "config", "user.email", commitEmail); err != nil {
		return fmt.Errorf("git config email: %w: %s", err, out)
	}
	if out, err := runGit(ctx, dir, "config", "user.name", commitName); err != nil {
		return fmt.Errorf("git config name: %w: %s", err, out)
	}
	return nil
}

// PushAll stages everything, commits with message, and pushes to the
// authed remote. An empty working tree is not an error; the push is
// skipped.
func (c *Client) PushAll(ctx context.Context, dir, message, authedURL string) error {
	if out, err := runGit(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w: %s", err, out)
	}

	out, err := runGit(ctx, dir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") {
			c.logger.Info("Nothing to commit", "dir", dir, "message", message)
			return nil
		}
		return fmt.Errorf("git commit: %w: %s", err, out)
	}

	if authedURL == "" {
		return nil
	}
	if out, err := runGit(ctx, dir, "push", authedURL, "HEAD:main"); err != nil {
		return fmt.Errorf("git push: %w: %s", err, sanitize(out, c.token))
	}
	return nil
}

// runGit executes one git command, returning combined output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// sanitize strips the token from git output before it reaches logs or
// error strings.
func sanitize(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
