package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabriq/fabriq/pkg/deploy"
	"github.com/fabriq/fabriq/pkg/events"
	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/llm/llmtest"
	"github.com/fabriq/fabriq/pkg/metrics"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/orchestrator"
	"github.com/fabriq/fabriq/pkg/skills"
	"github.com/fabriq/fabriq/pkg/store"
)

type stubRepo struct{}

func (stubRepo) Configured() bool { return false }
func (stubRepo) Owner() string    { return "" }
func (stubRepo) CreateRepo(ctx context.Context, name, description string) (*models.GitHubInfo, error) {
	return nil, nil
}
func (stubRepo) AuthedURL(owner, repo string) string                             { return "" }
func (stubRepo) Clone(ctx context.Context, url, dest string) error               { return nil }
func (stubRepo) InitRepo(ctx context.Context, dir string) error                  { return nil }
func (stubRepo) PushAll(ctx context.Context, dir, message, authedURL string) error { return nil }

type stubDeploy struct{}

func (stubDeploy) Configured() bool        { return false }
func (stubDeploy) Host(name string) string { return name + ".test" }
func (stubDeploy) CreateProject(ctx context.Context, name, description string) (*deploy.Project, error) {
	return nil, nil
}
func (stubDeploy) CreateApplication(ctx context.Context, spec deploy.ApplicationSpec) (*deploy.Application, error) {
	return nil, nil
}
func (stubDeploy) CreateDomain(ctx context.Context, applicationID, host string, port int) (*deploy.Domain, error) {
	return nil, nil
}
func (stubDeploy) TriggerDeploy(ctx context.Context, applicationID string) error { return nil }
func (stubDeploy) GetLatestDeployment(ctx context.Context, applicationID string) (*deploy.Deployment, error) {
	return nil, nil
}
func (stubDeploy) GetBuildLogs(ctx context.Context, applicationID string) (string, error) {
	return "", nil
}

type stubSkills struct{}

func (stubSkills) FindForContext(ctx context.Context, keywords []string, limit int) []skills.Skill {
	return nil
}

const analysisReply = `{"name":"demo","summary":"une landing page","type":"static","features":["accueil"],"stack":{"backend":"none","frontend":"HTML"}}`

const architectureReply = `{"stack":{"backend":"none","frontend":"HTML"},"fileStructure":["index.html"],"endpoints":[],"features":["Page d'accueil"]}`

func completingLLM() llm.Client {
	return llmtest.NewRouted(func(req *llm.MessageRequest) llmtest.Step {
		switch {
		case strings.Contains(req.System, "product analyst"):
			return llmtest.Step{Response: llmtest.Text(analysisReply)}
		case strings.Contains(req.System, "software architect"):
			return llmtest.Step{Response: llmtest.Text(architectureReply)}
		default:
			return llmtest.Step{Response: llmtest.Text("fait")}
		}
	})
}

func blockingLLM() llm.Client {
	return llmtest.NewRouted(func(req *llm.MessageRequest) llmtest.Step {
		return llmtest.Step{Block: true}
	})
}

func newTestServer(t *testing.T, client llm.Client) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	m := metrics.New()
	orch := orchestrator.New(orchestrator.Deps{
		Store:         store.New(filepath.Join(t.TempDir(), "pipelines.json")),
		Publisher:     events.NewPublisher(),
		LLM:           client,
		Repo:          stubRepo{},
		Deploy:        stubDeploy{},
		Skills:        stubSkills{},
		Metrics:       m,
		WorkspaceRoot: t.TempDir(),
		BuildWatch: orchestrator.BuildWatchConfig{
			InitialDelay: time.Millisecond, PollInterval: time.Millisecond,
			MaxPolls: 1, RedeployDelay: time.Millisecond,
		},
	})
	require.NoError(t, orch.Restore())

	srv := httptest.NewServer(NewServer(orch, m, nil).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return srv, orch
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func launch(t *testing.T, srv *httptest.Server, description string) models.Pipeline {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/v1/pipelines", map[string]string{"description": description})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p models.Pipeline
	decode(t, resp, &p)
	require.NotEmpty(t, p.ID)
	return p
}

func waitCompleted(t *testing.T, orch *orchestrator.Orchestrator, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, err := orch.GetPipeline(id)
		return err == nil && p.Phase == models.PhaseCompleted
	}, 10*time.Second, 5*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, completingLLM())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestLaunchAndGet(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	p := launch(t, srv, "une landing page")
	waitCompleted(t, orch, p.ID)

	resp, err := http.Get(srv.URL + "/api/v1/pipelines/" + p.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Pipeline
	decode(t, resp, &got)
	assert.Equal(t, models.PhaseCompleted, got.Phase)
	assert.Equal(t, 100, got.Progress)
}

func TestLaunchRequiresDescription(t *testing.T) {
	srv, _ := newTestServer(t, completingLLM())

	resp := postJSON(t, srv.URL+"/api/v1/pipelines", map[string]string{"name": "demo"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestList(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	a := launch(t, srv, "idée une")
	b := launch(t, srv, "idée deux")
	waitCompleted(t, orch, a.ID)
	waitCompleted(t, orch, b.ID)

	resp, err := http.Get(srv.URL + "/api/v1/pipelines")
	require.NoError(t, err)
	var body struct {
		Pipelines []models.Pipeline `json:"pipelines"`
	}
	decode(t, resp, &body)
	assert.Len(t, body.Pipelines, 2)
}

func TestGetUnknownPipeline(t *testing.T) {
	srv, _ := newTestServer(t, completingLLM())

	resp, err := http.Get(srv.URL + "/api/v1/pipelines/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsSnapshot(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	p := launch(t, srv, "une landing page")
	waitCompleted(t, orch, p.ID)

	resp, err := http.Get(srv.URL + "/api/v1/pipelines/" + p.ID + "/events")
	require.NoError(t, err)
	var body struct {
		Events []models.PipelineEvent `json:"events"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.Events)
	for _, ev := range body.Events {
		assert.Equal(t, p.ID, ev.PipelineID)
	}
}

func TestKill(t *testing.T) {
	srv, orch := newTestServer(t, blockingLLM())

	p := launch(t, srv, "une idée")

	resp := postJSON(t, srv.URL+"/api/v1/pipelines/"+p.ID+"/kill", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := orch.GetPipeline(p.ID)
		return err == nil && got.Phase == models.PhaseFailed
	}, 5*time.Second, 5*time.Millisecond)

	resp = postJSON(t, srv.URL+"/api/v1/pipelines/nope/kill", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModify(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	p := launch(t, srv, "une landing page")
	waitCompleted(t, orch, p.ID)

	resp := postJSON(t, srv.URL+"/api/v1/pipelines/"+p.ID+"/modify",
		map[string]string{"instructions": "change le titre"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitCompleted(t, orch, p.ID)
}

func TestModifyConflictsWhileRunning(t *testing.T) {
	srv, _ := newTestServer(t, blockingLLM())

	p := launch(t, srv, "une idée")

	resp := postJSON(t, srv.URL+"/api/v1/pipelines/"+p.ID+"/modify",
		map[string]string{"instructions": "change le titre"})
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_terminal", body["error"])
}

func TestModifyValidation(t *testing.T) {
	srv, _ := newTestServer(t, completingLLM())

	resp := postJSON(t, srv.URL+"/api/v1/pipelines/nope/modify", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/pipelines/nope/modify",
		map[string]string{"instructions": "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	p := launch(t, srv, "une landing page")
	waitCompleted(t, orch, p.ID)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/pipelines/"+p.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(srv.URL + "/api/v1/pipelines/" + p.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	p := launch(t, srv, "une landing page")
	waitCompleted(t, orch, p.ID)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "fabriq_pipelines_launched_total 1")
}

func TestEventStream(t *testing.T) {
	srv, _ := newTestServer(t, completingLLM())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	// Give the handler time to register its subscription.
	time.Sleep(100 * time.Millisecond)

	p := launch(t, srv, "une landing page")

	var ev models.PipelineEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, p.ID, ev.PipelineID)
	assert.NotEmpty(t, ev.Action)
}

func TestEventStreamFilters(t *testing.T) {
	srv, orch := newTestServer(t, completingLLM())

	first := launch(t, srv, "première idée")
	waitCompleted(t, orch, first.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Subscribe filtered on the completed pipeline: events from a new
	// launch must not come through.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?pipeline_id=" + first.ID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	time.Sleep(100 * time.Millisecond)

	second := launch(t, srv, "deuxième idée")
	waitCompleted(t, orch, second.ID)

	readCtx, cancelRead := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelRead()
	var ev models.PipelineEvent
	assert.Error(t, wsjson.Read(readCtx, conn, &ev), "filtered stream must stay silent")
}
