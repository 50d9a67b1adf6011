// Package deploy talks to a Dokploy-style deployment platform: project
// and application provisioning, domains, deploy triggers, and build
// status polling.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Deployment statuses reported by the platform.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Project is the result of createProject.
type Project struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
}

// Application is the result of createApplication.
type Application struct {
	ApplicationID string `json:"applicationId"`
	AppName       string `json:"appName"`
}

// Domain is the result of createDomain.
type Domain struct {
	DomainID string `json:"domainId"`
	Host     string `json:"host"`
}

// Deployment is one build of an application.
type Deployment struct {
	Status string `json:"status"`
	Log    string `json:"log,omitempty"`
}

// ApplicationSpec describes the application to create, linked to a
// source repository.
type ApplicationSpec struct {
	Name          string
	ProjectID     string
	EnvironmentID string
	Owner         string
	Repo          string
	Branch        string
	BuildType     string
}

// Client is the deployment platform adapter. A zero-credential client
// reports not configured and the scaffold runner stops after the push.
type Client struct {
	baseURL    string
	token      string
	baseDomain string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a deploy adapter against baseURL with the given token
// and DNS base domain.
func NewClient(baseURL, token, baseDomain string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		baseDomain: baseDomain,
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
	return c.baseURL != "" && c.token != ""
}

// Host returns the DNS host for an app name under the base domain.
func (c *Client) Host(name string) string {
	return name + "." + c.baseDomain
}

// CreateProject creates a deployment project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	var out Project
	err := c.post(ctx, "/api/project.create", map[string]any{
		"name":        name,
		"description": description,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", name, err)
	}
	return &out, nil
}

// CreateApplication creates an application bound to a source repository.
func (c *Client) CreateApplication(ctx context.Context, spec ApplicationSpec) (*Application, error) {
	branch := spec.Branch
	if branch == "" {
		branch = "main"
	}
	buildType := spec.BuildType
	if buildType == "" {
		buildType = "dockerfile"
	}
	var out Application
	err := c.post(ctx, "/api/application.create", map[string]any{
		"name":          spec.Name,
		"projectId":     spec.ProjectID,
		"environmentId": spec.EnvironmentID,
		"owner":         spec.Owner,
		"repository":    spec.Repo,
		"branch":        branch,
		"buildType":     buildType,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create application %s: %w", spec.Name, err)
	}
	return &out, nil
}

// CreateDomain maps a host to an application container port.
func (c *Client) CreateDomain(ctx context.Context, applicationID, host string, port int) (*Domain, error) {
	var out Domain
	err := c.post(ctx, "/api/domain.create", map[string]any{
		"applicationId": applicationID,
		"host":          host,
		"port":          port,
		"https":         true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create domain %s: %w", host, err)
	}
	if out.Host == "" {
		out.Host = host
	}
	return &out, nil
}

// TriggerDeploy starts a new deployment of the application.
func (c *Client) TriggerDeploy(ctx context.Context, applicationID string) error {
	if err := c.post(ctx, "/api/application.deploy", map[string]any{
		"applicationId": applicationID,
	}, nil); err != nil {
		return fmt.Errorf("trigger deploy: %w", err)
	}
	return nil
}

// GetLatestDeployment returns the most recent deployment of the
// application, or nil when none exists yet.
func (c *Client) GetLatestDeployment(ctx context.Context, applicationID string) (*Deployment, error) {
	var all []Deployment
	if err := c.get(ctx, "/api/deployment.all?applicationId="+applicationID, &all); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// GetBuildLogs returns the build log of the latest deployment.
func (c *Client) GetBuildLogs(ctx context.Context, applicationID string) (string, error) {
	dep, err := c.GetLatestDeployment(ctx, applicationID)
	if err != nil {
		return "", err
	}
	if dep == nil {
		return "", nil
	}
	return dep.Log, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.token)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.token)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
