package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabriq/fabriq/pkg/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "pipelines.json")
	s := New(path)

	p := models.NewPipeline("p1", "demo", "Landing page", "/workspace/p1")
	p.SetPhase(models.PhaseDevelopment)
	p.ProjectType = models.TypeStatic
	p.GitHub = &models.GitHubInfo{Owner: "me", Repo: "demo", URL: "https://github.com/me/demo"}
	p.Deploy = &models.DeployInfo{ProjectID: "proj", ApplicationID: "app", URL: "https://demo.example.com"}
	p.AddTokens(100, 200)
	require.NoError(t, p.SetArtifact("analysis", map[string]string{"summary": "a site"}))
	p.AppendEvent(models.PipelineEvent{ID: "ev-1", PipelineID: "p1", Action: "hello"})

	require.NoError(t, s.Save(map[string]*models.Pipeline{"p1": p}))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded["p1"]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Phase, got.Phase)
	assert.Equal(t, p.Progress, got.Progress)
	assert.Equal(t, p.ProjectType, got.ProjectType)
	assert.Equal(t, p.GitHub, got.GitHub)
	assert.Equal(t, p.Deploy, got.Deploy)
	assert.Equal(t, p.TokenUsage, got.TokenUsage)
	assert.Len(t, got.Events, 1)
	assert.Len(t, got.Agents, 5)
	assert.JSONEq(t, string(p.Artifacts["analysis"]), string(got.Artifacts["analysis"]))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt snapshot")
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.json")
	s := New(path)

	require.NoError(t, s.Save(map[string]*models.Pipeline{}))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
