package deploy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlatformStub(t *testing.T) (*Client, *[]string) {
	t.Helper()
	paths := &[]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok", r.Header.Get("x-api-key"))
		*paths = append(*paths, r.URL.Path)

		switch r.URL.Path {
		case "/api/project.create":
			json.NewEncoder(w).Encode(Project{ProjectID: "proj-1", EnvironmentID: "env-1"})
		case "/api/application.create":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "proj-1", body["projectId"])
			require.Equal(t, "main", body["branch"])
			require.Equal(t, "dockerfile", body["buildType"])
			json.NewEncoder(w).Encode(Application{ApplicationID: "app-1", AppName: "demo"})
		case "/api/domain.create":
			json.NewEncoder(w).Encode(Domain{DomainID: "dom-1", Host: "demo.apps.example.com"})
		case "/api/application.deploy":
			w.WriteHeader(http.StatusOK)
		case "/api/deployment.all":
			json.NewEncoder(w).Encode([]Deployment{{Status: StatusError, Log: "npm ERR! missing script"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", "apps.example.com", nil), paths
}

func TestProvisioningFlow(t *testing.T) {
	c, paths := newPlatformStub(t)
	ctx := context.Background()

	proj, err := c.CreateProject(ctx, "demo", "a demo")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", proj.ProjectID)

	app, err := c.CreateApplication(ctx, ApplicationSpec{
		Name: "demo", ProjectID: proj.ProjectID, EnvironmentID: proj.EnvironmentID,
		Owner: "me", Repo: "demo",
	})
	require.NoError(t, err)
	assert.Equal(t, "app-1", app.ApplicationID)

	dom, err := c.CreateDomain(ctx, app.ApplicationID, c.Host("demo"), 80)
	require.NoError(t, err)
	assert.Equal(t, "demo.apps.example.com", dom.Host)

	require.NoError(t, c.TriggerDeploy(ctx, app.ApplicationID))

	assert.Equal(t, []string{
		"/api/project.create",
		"/api/application.create",
		"/api/domain.create",
		"/api/application.deploy",
	}, *paths)
}

func TestGetLatestDeploymentAndLogs(t *testing.T) {
	c, _ := newPlatformStub(t)
	ctx := context.Background()

	dep, err := c.GetLatestDeployment(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, StatusError, dep.Status)

	logs, err := c.GetBuildLogs(ctx, "app-1")
	require.NoError(t, err)
	assert.Contains(t, logs, "npm ERR!")
}

func TestGetLatestDeploymentNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Deployment{})
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "tok", "apps.example.com", nil)

	dep, err := c.GetLatestDeployment(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Nil(t, dep)
}

func TestErrorStatusSurfacesSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "tok", "apps.example.com", nil)

	_, err := c.CreateProject(context.Background(), "demo", "a demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestConfigured(t *testing.T) {
	assert.True(t, NewClient("https://deploy.example.com", "tok", "apps.example.com", nil).Configured())
	assert.False(t, NewClient("", "", "", nil).Configured())
}

func TestHost(t *testing.T) {
	c := NewClient("https://deploy.example.com", "tok", "apps.example.com", nil)
	assert.Equal(t, "demo.apps.example.com", c.Host("demo"))
}
