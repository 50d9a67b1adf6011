// Package orchestrator owns the pipeline registry and drives each
// pipeline through its phases with one worker goroutine per pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabriq/fabriq/pkg/agent"
	"github.com/fabriq/fabriq/pkg/deploy"
	"github.com/fabriq/fabriq/pkg/events"
	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/metrics"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/skills"
	"github.com/fabriq/fabriq/pkg/store"
)

// Sentinel errors of the public contract.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrNotTerminal      = errors.New("pipeline is not in a terminal phase")
)

// User-visible terminal reasons.
const (
	ManualStopReason  = "arrêté manuellement"
	InterruptedReason = "interrupted"
)

// Artifact keys.
const (
	ArtifactAnalysis     = "analysis"
	ArtifactArchitecture = "architecture"
	ArtifactSkills       = "skills"
	ArtifactPendingMod   = "pendingModification"
)

// RepoService is the source-hosting capability consumed by the phase
// runners.
type RepoService interface {
	Configured() bool
	Owner() string
	CreateRepo(ctx context.Context, name, description string) (*models.GitHubInfo, error)
	AuthedURL(owner, repo string) string
	Clone(ctx context.Context, url, dest string) error
	InitRepo(ctx context.Context, dir string) error
	PushAll(ctx context.Context, dir, message, authedURL string) error
}

// DeployService is the deployment platform capability.
type DeployService interface {
	Configured() bool
	Host(name string) string
	CreateProject(ctx context.Context, name, description string) (*deploy.Project, error)
	CreateApplication(ctx context.Context, spec deploy.ApplicationSpec) (*deploy.Application, error)
	CreateDomain(ctx context.Context, applicationID, host string, port int) (*deploy.Domain, error)
	TriggerDeploy(ctx context.Context, applicationID string) error
	GetLatestDeployment(ctx context.Context, applicationID string) (*deploy.Deployment, error)
	GetBuildLogs(ctx context.Context, applicationID string) (string, error)
}

// SkillsService is the catalog lookup capability.
type SkillsService interface {
	FindForContext(ctx context.Context, keywords []string, limit int) []skills.Skill
}

// BuildWatchConfig tunes the deployment polling loop.
type BuildWatchConfig struct {
	InitialDelay  time.Duration
	PollInterval  time.Duration
	MaxPolls      int
	RedeployDelay time.Duration
}

// DefaultBuildWatch is the production polling cadence.
func DefaultBuildWatch() BuildWatchConfig {
	return BuildWatchConfig{
		InitialDelay:  10 * time.Second,
		PollInterval:  10 * time.Second,
		MaxPolls:      3,
		RedeployDelay: 15 * time.Second,
	}
}

// Deps are the injected collaborators; all singletons are created in main
// and handed in here.
type Deps struct {
	Store     *store.Store
	Publisher *events.Publisher
	LLM       llm.Client
	Repo      RepoService
	Deploy    DeployService
	Skills    SkillsService
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	WorkspaceRoot string
	BuildWatch    BuildWatchConfig
}

// Orchestrator is the pipeline registry and scheduler.
type Orchestrator struct {
	mu        sync.Mutex
	persistMu sync.Mutex
	pipelines map[string]*models.Pipeline
	running   map[string]context.CancelFunc
	wg        sync.WaitGroup

	store   *store.Store
	pub     *events.Publisher
	llm     llm.Client
	repo    RepoService
	deploy  DeployService
	skills  SkillsService
	metrics *metrics.Metrics
	logger  *slog.Logger

	workspaceRoot string
	buildWatch    BuildWatchConfig
}

// New creates an orchestrator. Call Restore before serving traffic.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bw := deps.BuildWatch
	if bw.MaxPolls == 0 {
		bw = DefaultBuildWatch()
	}
	return &Orchestrator{
		pipelines:     map[string]*models.Pipeline{},
		running:       map[string]context.CancelFunc{},
		store:         deps.Store,
		pub:           deps.Publisher,
		llm:           deps.LLM,
		repo:          deps.Repo,
		deploy:        deps.Deploy,
		skills:        deps.Skills,
		metrics:       deps.Metrics,
		logger:        logger,
		workspaceRoot: deps.WorkspaceRoot,
		buildWatch:    bw,
	}
}

// Restore loads the persisted registry. Workers are never auto-resumed:
// any pipeline left in a non-terminal phase by a previous process is
// marked failed as interrupted.
func (o *Orchestrator) Restore() error {
	loaded, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("restore pipelines: %w", err)
	}

	interrupted := 0
	for id, p := range loaded {
		if !p.Phase.IsTerminal() {
			o.logger.Warn("Marking interrupted pipeline failed", "pipeline_id", id, "last_phase", p.Phase)
			p.SetPhase(models.PhaseFailed)
			p.Error = InterruptedReason
			interrupted++
		}
	}

	o.mu.Lock()
	o.pipelines = loaded
	o.mu.Unlock()

	if interrupted > 0 {
		o.persist()
	}
	o.logger.Info("Pipelines restored", "count", len(loaded), "interrupted", interrupted)
	return nil
}

// LaunchIdea creates a pipeline for a project idea and starts its worker.
// It returns a snapshot immediately; the worker runs in the background.
func (o *Orchestrator) LaunchIdea(description, name string, attachments []agent.Attachment) (*models.Pipeline, error) {
	id := uuid.New().String()[:8]
	if name = Slugify(name); name == "" {
		name = "projet-" + id
	}

	workspace := filepath.Join(o.workspaceRoot, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	p := models.NewPipeline(id, name, description, workspace)
	if len(attachments) > 0 {
		if err := p.SetArtifact("attachments", attachments); err != nil {
			return nil, fmt.Errorf("store attachments: %w", err)
		}
	}

	o.mu.Lock()
	o.pipelines[id] = p
	o.mu.Unlock()
	o.persist()

	if o.metrics != nil {
		o.metrics.PipelinesLaunched.Inc()
	}
	o.logger.Info("Pipeline launched", "pipeline_id", id, "name", name)

	o.startWorker(id, o.runPipeline)
	return p.Clone(), nil
}

// ListPipelines returns snapshots of all pipelines, newest first.
func (o *Orchestrator) ListPipelines() []*models.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.Pipeline, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetPipeline returns a snapshot of one pipeline.
func (o *Orchestrator) GetPipeline(id string) (*models.Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return p.Clone(), nil
}

// KillPipeline cancels the pipeline's worker and marks it failed with the
// manual stop reason. Idempotent: killing a terminal pipeline does
// nothing.
func (o *Orchestrator) KillPipeline(id string) error {
	o.mu.Lock()
	p, ok := o.pipelines[id]
	if !ok {
		o.mu.Unlock()
		return ErrPipelineNotFound
	}
	cancel := o.running[id]
	alreadyTerminal := p.Phase.IsTerminal()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !alreadyTerminal {
		o.failPipeline(id, ManualStopReason)
	}
	return nil
}

// DeletePipeline kills the pipeline, removes it from the registry and the
// store, and deletes its workspace best-effort.
func (o *Orchestrator) DeletePipeline(id string) error {
	if err := o.KillPipeline(id); err != nil {
		return err
	}

	o.mu.Lock()
	p := o.pipelines[id]
	delete(o.pipelines, id)
	o.mu.Unlock()
	o.persist()

	if p != nil && p.Workspace != "" {
		if err := os.RemoveAll(p.Workspace); err != nil {
			o.logger.Warn("Workspace removal failed", "pipeline_id", id, "error", err)
		}
	}
	o.logger.Info("Pipeline deleted", "pipeline_id", id)
	return nil
}

// ModifyPipeline stores a modification request on a terminal pipeline and
// restarts its worker on the modify-only path.
func (o *Orchestrator) ModifyPipeline(id, instructions string, attachments []agent.Attachment) error {
	o.mu.Lock()
	p, ok := o.pipelines[id]
	if !ok {
		o.mu.Unlock()
		return ErrPipelineNotFound
	}
	if _, active := o.running[id]; active || !p.Phase.IsTerminal() {
		o.mu.Unlock()
		return ErrNotTerminal
	}
	if err := p.SetArtifact(ArtifactPendingMod, modificationRequest{
		Instructions: instructions,
		Attachments:  attachments,
	}); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("store modification: %w", err)
	}
	p.SetPhase(models.PhaseDevelopment)
	p.Progress = 40
	p.Error = ""
	o.mu.Unlock()
	o.persist()

	o.logger.Info("Pipeline modification queued", "pipeline_id", id)
	o.startWorker(id, o.runModify)
	return nil
}

// Subscribe opens a live event stream; empty pipelineID means all
// pipelines.
func (o *Orchestrator) Subscribe(pipelineID string) *events.Subscription {
	return o.pub.Subscribe(pipelineID)
}

// Shutdown cancels all workers and waits for them up to the context
// deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not drain: %w", ctx.Err())
	}
}

type modificationRequest struct {
	Instructions string             `json:"instructions"`
	Attachments  []agent.Attachment `json:"attachments,omitempty"`
}

// startWorker registers a cancel func for the pipeline and launches run in
// a goroutine. A second start while the pipeline is running is a no-op.
func (o *Orchestrator) startWorker(id string, run func(ctx context.Context, id string)) {
	o.mu.Lock()
	if _, active := o.running[id]; active {
		o.mu.Unlock()
		o.logger.Warn("Worker already running", "pipeline_id", id)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.running[id] = cancel
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PipelinesRunning.Inc()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, id)
			o.mu.Unlock()
			cancel()
			if o.metrics != nil {
				o.metrics.PipelinesRunning.Dec()
			}
		}()
		run(ctx, id)
	}()
}

// update runs fn against the live pipeline under the registry lock.
// Returns false when the pipeline is gone.
func (o *Orchestrator) update(id string, fn func(p *models.Pipeline)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// snapshot returns a clone of the live pipeline.
func (o *Orchestrator) snapshot(id string) (*models.Pipeline, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// persist snapshots the registry and writes it through the store.
// persistMu spans the clone and the write: without it, two concurrent
// persists could save their snapshots in the opposite order they were
// taken, letting a stale full-registry snapshot overwrite a newer one.
func (o *Orchestrator) persist() {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	o.mu.Lock()
	snap := make(map[string]*models.Pipeline, len(o.pipelines))
	for k, v := range o.pipelines {
		snap[k] = v.Clone()
	}
	o.mu.Unlock()

	if err := o.store.Save(snap); err != nil {
		o.logger.Error("Persist failed", "error", err)
	}
}

// emit appends an event to the pipeline ring and publishes it live.
func (o *Orchestrator) emit(id string, role models.AgentRole, action string, typ models.EventType) {
	ev := models.PipelineEvent{
		ID:         uuid.New().String(),
		PipelineID: id,
		Timestamp:  time.Now(),
		AgentRole:  role,
		AgentEmoji: role.Emoji(),
		Action:     action,
		Type:       typ,
	}
	o.update(id, func(p *models.Pipeline) { p.AppendEvent(ev) })
	o.pub.Publish(ev)
}

// setPhase transitions the pipeline, bumps the phase metric, and persists.
func (o *Orchestrator) setPhase(id string, phase models.Phase) {
	o.update(id, func(p *models.Pipeline) {
		if !models.CanTransition(p.Phase, phase) {
			o.logger.Warn("Unexpected phase transition", "pipeline_id", id, "from", p.Phase, "to", phase)
		}
		p.SetPhase(phase)
	})
	if o.metrics != nil {
		o.metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
	}
	o.persist()
}

// failPipeline marks the pipeline failed with reason, unless already
// terminal.
func (o *Orchestrator) failPipeline(id, reason string) {
	changed := false
	o.update(id, func(p *models.Pipeline) {
		if p.Phase.IsTerminal() {
			return
		}
		p.SetPhase(models.PhaseFailed)
		p.Error = reason
		for i := range p.Agents {
			if p.Agents[i].Status == models.AgentActive {
				p.SetAgentStatus(p.Agents[i].Role, models.AgentError, reason)
			}
		}
		changed = true
	})
	if !changed {
		return
	}
	o.emit(id, models.RoleAnalyst, "Pipeline arrêté: "+reason, models.EventError)
	if o.metrics != nil {
		o.metrics.PipelinesFailed.Inc()
	}
	o.persist()
	o.logger.Info("Pipeline failed", "pipeline_id", id, "reason", reason)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a name to a lowercase dash-separated slug of at most
// 30 characters.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 30 {
		s = strings.Trim(s[:30], "-")
	}
	return s
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
