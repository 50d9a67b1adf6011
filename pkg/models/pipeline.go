// Package models defines the pipeline aggregate and its projections.
// A Pipeline is mutated only by the single worker executing it; callers
// outside the orchestrator receive deep copies via Clone.
package models

import (
	"encoding/json"
	"time"
)

// ProjectType is the classified kind of application a pipeline produces.
type ProjectType string

// Known project types.
const (
	TypeStatic       ProjectType = "static"
	TypeSPA          ProjectType = "spa"
	TypeFullstack    ProjectType = "fullstack"
	TypeAPI          ProjectType = "api"
	TypePythonWorker ProjectType = "python-worker"
	TypeNodeWorker   ProjectType = "node-worker"
	TypeUnknown      ProjectType = "unknown"
)

// KnownProjectType reports whether s is one of the six classified types.
func KnownProjectType(s string) bool {
	switch ProjectType(s) {
	case TypeStatic, TypeSPA, TypeFullstack, TypeAPI, TypePythonWorker, TypeNodeWorker:
		return true
	}
	return false
}

// TokenUsage is cumulative LLM token consumption for a pipeline.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// GitHubInfo records the remote repository once it exists.
type GitHubInfo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	URL   string `json:"url"`
}

// DeployInfo records the provisioned deployment once it exists.
type DeployInfo struct {
	ProjectID     string `json:"projectId"`
	ApplicationID string `json:"applicationId"`
	URL           string `json:"url,omitempty"`
}

// Pipeline is the root aggregate: one end-to-end project-generation job.
type Pipeline struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Phase       Phase                      `json:"phase"`
	ProjectType ProjectType                `json:"projectType"`
	Progress    int                        `json:"progress"`
	Agents      []AgentView                `json:"agents"`
	Events      []PipelineEvent            `json:"events"`
	Workspace   string                     `json:"workspace"`
	GitHub      *GitHubInfo                `json:"github,omitempty"`
	Deploy      *DeployInfo                `json:"deploy,omitempty"`
	Artifacts   map[string]json.RawMessage `json:"artifacts"`
	TokenUsage  TokenUsage                 `json:"tokenUsage"`
	CreatedAt   time.Time                  `json:"createdAt"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
	Error       string                     `json:"error,omitempty"`
}

// NewPipeline creates a freshly queued pipeline.
func NewPipeline(id, name, description, workspace string) *Pipeline {
	now := time.Now()
	return &Pipeline{
		ID:          id,
		Name:        name,
		Description: description,
		Phase:       PhaseQueued,
		ProjectType: TypeUnknown,
		Agents:      NewAgentRoster(),
		Events:      []PipelineEvent{},
		Workspace:   workspace,
		Artifacts:   map[string]json.RawMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendEvent adds an event to the bounded ring, dropping the oldest on
// overflow.
func (p *Pipeline) AppendEvent(ev PipelineEvent) {
	p.Events = append(p.Events, ev)
	if len(p.Events) > MaxEventsPerPipeline {
		p.Events = p.Events[len(p.Events)-MaxEventsPerPipeline:]
	}
	p.UpdatedAt = time.Now()
}

// SetPhase moves the pipeline to the given phase and raises progress to the
// phase floor. Progress never decreases within a run.
func (p *Pipeline) SetPhase(phase Phase) {
	p.Phase = phase
	if floor, ok := MinProgress(phase); ok && floor > p.Progress {
		p.Progress = floor
	}
	p.UpdatedAt = time.Now()
}

// SetProgress raises progress to v; lower values are ignored.
func (p *Pipeline) SetProgress(v int) {
	if v > p.Progress {
		if v > 100 {
			v = 100
		}
		p.Progress = v
		p.UpdatedAt = time.Now()
	}
}

// Agent returns a pointer to the AgentView for the role, or nil.
func (p *Pipeline) Agent(role AgentRole) *AgentView {
	for i := range p.Agents {
		if p.Agents[i].Role == role {
			return &p.Agents[i]
		}
	}
	return nil
}

// SetAgentStatus updates one agent's status and current action, stamping
// start/completion times on the active/done/error transitions.
func (p *Pipeline) SetAgentStatus(role AgentRole, status AgentStatus, action string) {
	a := p.Agent(role)
	if a == nil {
		return
	}
	now := time.Now()
	a.Status = status
	a.CurrentAction = action
	switch status {
	case AgentActive:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
		a.CompletedAt = nil
	case AgentDone, AgentError:
		a.CompletedAt = &now
	}
	p.UpdatedAt = now
}

// SetArtifact stores a phase artifact under its name.
func (p *Pipeline) SetArtifact(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.Artifacts == nil {
		p.Artifacts = map[string]json.RawMessage{}
	}
	p.Artifacts[name] = data
	p.UpdatedAt = time.Now()
	return nil
}

// Artifact decodes the named artifact into out. Returns false when absent.
func (p *Pipeline) Artifact(name string, out any) (bool, error) {
	raw, ok := p.Artifacts[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}

// AddTokens accumulates LLM token usage.
func (p *Pipeline) AddTokens(input, output int) {
	p.TokenUsage.InputTokens += input
	p.TokenUsage.OutputTokens += output
	p.UpdatedAt = time.Now()
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (p *Pipeline) Clone() *Pipeline {
	cp := *p
	cp.Agents = make([]AgentView, len(p.Agents))
	copy(cp.Agents, p.Agents)
	cp.Events = make([]PipelineEvent, len(p.Events))
	copy(cp.Events, p.Events)
	cp.Artifacts = make(map[string]json.RawMessage, len(p.Artifacts))
	for k, v := range p.Artifacts {
		raw := make(json.RawMessage, len(v))
		copy(raw, v)
		cp.Artifacts[k] = raw
	}
	if p.GitHub != nil {
		gh := *p.GitHub
		cp.GitHub = &gh
	}
	if p.Deploy != nil {
		d := *p.Deploy
		cp.Deploy = &d
	}
	for i := range cp.Agents {
		if t := cp.Agents[i].StartedAt; t != nil {
			tt := *t
			cp.Agents[i].StartedAt = &tt
		}
		if t := cp.Agents[i].CompletedAt; t != nil {
			tt := *t
			cp.Agents[i].CompletedAt = &tt
		}
	}
	return &cp
}
