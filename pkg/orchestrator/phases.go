package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fabriq/fabriq/pkg/agent"
	"github.com/fabriq/fabriq/pkg/classify"
	"github.com/fabriq/fabriq/pkg/deploy"
	"github.com/fabriq/fabriq/pkg/gitrepo"
	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/prompt"
	"github.com/fabriq/fabriq/pkg/skills"
	"github.com/fabriq/fabriq/pkg/tools"
)

// noTools restricts an agent run to pure conversation.
var noTools = []string{}

// fullTools exposes the whole catalog.
var fullTools []string

// readOnlyTools is the QA restriction.
var readOnlyTools = []string{tools.ToolReadFile, tools.ToolListDir}

// runAnalysis turns the raw idea into the analysis artifact and the
// project type. Failures here are fatal for the pipeline.
func (o *Orchestrator) runAnalysis(ctx context.Context, id string) error {
	o.setPhase(id, models.PhaseAnalysis)
	o.setAgent(id, models.RoleAnalyst, models.AgentActive, "Analyse de l'idée")
	o.emit(id, models.RoleAnalyst, "Analyse de l'idée en cours", models.EventInfo)

	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}
	var attachments []agent.Attachment
	if _, err := p.Artifact("attachments", &attachments); err != nil {
		o.logger.Warn("Unreadable attachments artifact", "pipeline_id", id, "error", err)
	}

	res, err := o.runAgent(ctx, id, models.RoleAnalyst, agent.RunOptions{
		SystemPrompt: prompt.AnalystSystem,
		Prompt:       prompt.Analysis(p.Description),
		Attachments:  attachments,
		MaxTurns:     3,
		AllowedTools: noTools,
	})
	if err != nil {
		o.setAgent(id, models.RoleAnalyst, models.AgentError, "")
		o.emit(id, models.RoleAnalyst, "Échec de l'analyse: "+err.Error(), models.EventError)
		return fmt.Errorf("analysis: %w", err)
	}

	var analysis classify.Analysis
	if err := llm.ParseJSON(res.FinalResult, &analysis); err != nil {
		o.setAgent(id, models.RoleAnalyst, models.AgentError, "")
		o.emit(id, models.RoleAnalyst, "Réponse d'analyse illisible", models.EventError)
		return fmt.Errorf("analysis artifact: %w", err)
	}

	projectType := classify.ProjectType(analysis)
	o.update(id, func(p *models.Pipeline) {
		p.ProjectType = projectType
		if slug := Slugify(analysis.Name); slug != "" {
			p.Name = slug
		}
		if err := p.SetArtifact(ArtifactAnalysis, analysis); err != nil {
			o.logger.Error("Storing analysis artifact failed", "pipeline_id", id, "error", err)
		}
	})
	o.persist()

	o.setAgent(id, models.RoleAnalyst, models.AgentDone, "")
	o.emit(id, models.RoleAnalyst, fmt.Sprintf("Analyse terminée: projet %s", projectType), models.EventSuccess)
	return nil
}

// runArchitecture produces the architecture artifact, biased by catalog
// skills when the adapter finds any. Failures here are fatal.
func (o *Orchestrator) runArchitecture(ctx context.Context, id string) error {
	o.setPhase(id, models.PhaseArchitecture)
	o.setAgent(id, models.RoleArchitect, models.AgentActive, "Conception de l'architecture")

	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}
	var analysis classify.Analysis
	if found, err := p.Artifact(ArtifactAnalysis, &analysis); !found || err != nil {
		return fmt.Errorf("architecture: missing analysis artifact")
	}

	topFeatures := analysis.Features
	if len(topFeatures) > 3 {
		topFeatures = topFeatures[:3]
	}
	keywords := skills.Keywords(
		[]string{analysis.Stack.Backend, analysis.Stack.Frontend, analysis.Stack.Database},
		topFeatures, p.Description, 5,
	)
	found := o.skills.FindForContext(ctx, keywords, 3)
	var skillLines []string
	for _, s := range found {
		skillLines = append(skillLines, fmt.Sprintf("%s (%s)", s.Title, s.Href))
	}
	o.update(id, func(p *models.Pipeline) {
		refs := make([]skills.Skill, 0, len(found))
		for _, s := range found {
			refs = append(refs, skills.Skill{Title: s.Title, Href: s.Href})
		}
		if err := p.SetArtifact(ArtifactSkills, refs); err != nil {
			o.logger.Error("Storing skills artifact failed", "pipeline_id", id, "error", err)
		}
	})

	tpl := classify.For(p.ProjectType)
	analysisJSON := string(p.Artifacts[ArtifactAnalysis])

	res, err := o.runAgent(ctx, id, models.RoleArchitect, agent.RunOptions{
		SystemPrompt: prompt.ArchitectSystem,
		Prompt:       prompt.Architecture(analysisJSON, tpl.Architecture, tpl.Dockerfile, skillLines),
		MaxTurns:     3,
		AllowedTools: noTools,
	})
	if err != nil {
		o.setAgent(id, models.RoleArchitect, models.AgentError, "")
		o.emit(id, models.RoleArchitect, "Échec de la conception: "+err.Error(), models.EventError)
		return fmt.Errorf("architecture: %w", err)
	}

	var arch classify.Architecture
	if err := llm.ParseJSON(res.FinalResult, &arch); err != nil {
		o.setAgent(id, models.RoleArchitect, models.AgentError, "")
		o.emit(id, models.RoleArchitect, "Réponse d'architecture illisible", models.EventError)
		return fmt.Errorf("architecture artifact: %w", err)
	}

	o.update(id, func(p *models.Pipeline) {
		if err := p.SetArtifact(ArtifactArchitecture, arch); err != nil {
			o.logger.Error("Storing architecture artifact failed", "pipeline_id", id, "error", err)
		}
	})
	o.persist()

	o.setAgent(id, models.RoleArchitect, models.AgentDone, "")
	o.emit(id, models.RoleArchitect, fmt.Sprintf("Architecture définie: %d fonctionnalités", len(arch.Features)), models.EventSuccess)
	return nil
}

// runScaffold creates the remote repo, the project skeleton, and the
// deployment. Remote-side failures degrade to local-only mode instead of
// failing the pipeline.
func (o *Orchestrator) runScaffold(ctx context.Context, id string) error {
	o.setPhase(id, models.PhaseScaffold)
	o.setAgent(id, models.RoleDeveloper, models.AgentActive, "Création du squelette")

	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}

	if o.repo.Configured() {
		info, err := o.repo.CreateRepo(ctx, p.Name, p.Description)
		switch {
		case err == nil:
			o.emit(id, models.RoleDeveloper, "Dépôt créé: "+info.URL, models.EventInfo)
		case errors.Is(err, gitrepo.ErrAlreadyExists):
			o.emit(id, models.RoleDeveloper, "Dépôt existant réutilisé: "+info.URL, models.EventInfo)
		default:
			info = nil
			o.emit(id, models.RoleDeveloper, "Dépôt distant indisponible, mode local: "+err.Error(), models.EventWarning)
		}
		if info != nil {
			o.update(id, func(p *models.Pipeline) { p.GitHub = info })
			o.persist()
			authed := o.repo.AuthedURL(info.Owner, info.Repo)
			if err := o.repo.Clone(ctx, authed, p.Workspace); err != nil {
				o.logger.Warn("Clone failed, initializing locally", "pipeline_id", id, "error", err)
				if err := o.repo.InitRepo(ctx, p.Workspace); err != nil {
					return fmt.Errorf("scaffold: init workspace: %w", err)
				}
			}
		}
	}
	p, _ = o.snapshot(id)
	if p.GitHub == nil {
		if err := o.repo.InitRepo(ctx, p.Workspace); err != nil {
			return fmt.Errorf("scaffold: init workspace: %w", err)
		}
	}

	tpl := classify.For(p.ProjectType)
	archJSON := string(p.Artifacts[ArtifactArchitecture])
	_, err := o.runAgent(ctx, id, models.RoleDeveloper, agent.RunOptions{
		SystemPrompt: prompt.DeveloperSystem,
		Prompt:       prompt.Scaffold(archJSON, tpl.Scaffold, tpl.Dockerfile),
		MaxTurns:     12,
		AllowedTools: []string{tools.ToolWriteFile, tools.ToolBash},
	})
	if err != nil {
		return fmt.Errorf("scaffold: %w", err)
	}

	if err := o.push(ctx, id, msgScaffold); err != nil {
		o.emit(id, models.RoleDeveloper, "Push du squelette en échec: "+err.Error(), models.EventError)
	}

	p, _ = o.snapshot(id)
	if p.GitHub != nil && o.deploy.Configured() && p.Deploy == nil {
		o.provisionDeployment(ctx, id)
	}
	return nil
}

// provisionDeployment creates the deploy project, application, and domain
// and triggers the first build. Failures emit errors but never fail the
// pipeline.
func (o *Orchestrator) provisionDeployment(ctx context.Context, id string) {
	o.setPhase(id, models.PhaseDeploying)
	o.emit(id, models.RoleDeveloper, "Provisionnement du déploiement", models.EventDeploy)

	p, ok := o.snapshot(id)
	if !ok || p.GitHub == nil {
		return
	}

	proj, err := o.deploy.CreateProject(ctx, p.Name, p.Description)
	if err != nil {
		o.emit(id, models.RoleDeveloper, "Création du projet de déploiement en échec: "+err.Error(), models.EventError)
		return
	}
	app, err := o.deploy.CreateApplication(ctx, deploy.ApplicationSpec{
		Name:          p.Name,
		ProjectID:     proj.ProjectID,
		EnvironmentID: proj.EnvironmentID,
		Owner:         p.GitHub.Owner,
		Repo:          p.GitHub.Repo,
	})
	if err != nil {
		o.emit(id, models.RoleDeveloper, "Création de l'application en échec: "+err.Error(), models.EventError)
		return
	}

	host := o.deploy.Host(p.Name)
	var url string
	if domain, err := o.deploy.CreateDomain(ctx, app.ApplicationID, host, classify.Port(p.ProjectType)); err != nil {
		o.emit(id, models.RoleDeveloper, "Création du domaine en échec: "+err.Error(), models.EventError)
	} else {
		url = "https://" + domain.Host
	}

	if err := o.deploy.TriggerDeploy(ctx, app.ApplicationID); err != nil {
		o.emit(id, models.RoleDeveloper, "Déclenchement du déploiement en échec: "+err.Error(), models.EventError)
	}

	o.update(id, func(p *models.Pipeline) {
		p.Deploy = &models.DeployInfo{
			ProjectID:     proj.ProjectID,
			ApplicationID: app.ApplicationID,
			URL:           url,
		}
	})
	o.persist()
	o.emit(id, models.RoleDeveloper, "Déploiement provisionné: "+host, models.EventDeploy)
}

// runDevelopment implements the architecture features one by one, pushing
// after each and watching the build when deployed. A failing feature
// degrades with a warning so later features still run.
func (o *Orchestrator) runDevelopment(ctx context.Context, id string) error {
	o.setPhase(id, models.PhaseDevelopment)

	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}
	var arch classify.Architecture
	if found, err := p.Artifact(ArtifactArchitecture, &arch); !found || err != nil {
		return fmt.Errorf("development: missing architecture artifact")
	}
	archJSON := string(p.Artifacts[ArtifactArchitecture])

	n := len(arch.Features)
	for i, feature := range arch.Features {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.setAgent(id, models.RoleDeveloper, models.AgentActive, featureLabel(i, n, feature))
		o.update(id, func(p *models.Pipeline) { p.SetProgress(featureProgress(i, n)) })
		o.persist()
		o.emit(id, models.RoleDeveloper, featureLabel(i, n, feature), models.EventInfo)

		_, err := o.runAgent(ctx, id, models.RoleDeveloper, agent.RunOptions{
			SystemPrompt: prompt.DeveloperSystem,
			Prompt:       prompt.Feature(feature, archJSON),
			MaxTurns:     12,
			AllowedTools: fullTools,
		})
		if err != nil {
			if isCancelled(err) {
				return err
			}
			o.emit(id, models.RoleDeveloper, "Fonctionnalité en échec: "+err.Error(), models.EventWarning)
			continue
		}

		if err := o.push(ctx, id, "feat: "+feature); err != nil {
			o.emit(id, models.RoleDeveloper, "Push en échec: "+err.Error(), models.EventError)
			continue
		}

		if deployed, _ := o.snapshot(id); deployed != nil && deployed.Deploy != nil {
			if err := o.watchBuild(ctx, id); err != nil {
				return err
			}
		}
	}

	o.setAgent(id, models.RoleDeveloper, models.AgentDone, "")
	return nil
}

// watchBuild polls the latest deployment and runs the debug loop on build
// failures. It returns an error only on cancellation; exhausted polls
// return silently, the next feature triggers another watch.
func (o *Orchestrator) watchBuild(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok || p.Deploy == nil {
		return nil
	}
	appID := p.Deploy.ApplicationID

	if err := sleepCtx(ctx, o.buildWatch.InitialDelay); err != nil {
		return err
	}

	for attempt := 0; attempt < o.buildWatch.MaxPolls; attempt++ {
		dep, err := o.deploy.GetLatestDeployment(ctx, appID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("Deployment poll failed", "pipeline_id", id, "error", err)
			if err := sleepCtx(ctx, o.buildWatch.PollInterval); err != nil {
				return err
			}
			continue
		}

		switch {
		case dep != nil && dep.Status == deploy.StatusDone:
			o.emit(id, models.RoleDeveloper, "Déploiement réussi", models.EventSuccess)
			return nil

		case dep != nil && dep.Status == deploy.StatusError:
			o.emit(id, models.RoleDeveloper, "Échec du build, correction en cours", models.EventError)
			logs, logErr := o.deploy.GetBuildLogs(ctx, appID)
			if logErr != nil {
				o.logger.Warn("Build log fetch failed", "pipeline_id", id, "error", logErr)
			}

			o.setPhase(id, models.PhaseDebugging)
			if err := o.runDebugger(ctx, id, logs); err != nil {
				return err
			}
			if err := o.push(ctx, id, msgFix); err != nil {
				o.emit(id, models.RoleDebugger, "Push du correctif en échec: "+err.Error(), models.EventError)
			}
			if err := o.deploy.TriggerDeploy(ctx, appID); err != nil {
				o.emit(id, models.RoleDebugger, "Redéploiement en échec: "+err.Error(), models.EventError)
			}
			if err := sleepCtx(ctx, o.buildWatch.RedeployDelay); err != nil {
				return err
			}
			o.setPhase(id, models.PhaseDevelopment)

		default:
			if err := sleepCtx(ctx, o.buildWatch.PollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// runDebugger fixes a failed build from its logs. Never fatal: a failed
// debug pass emits a warning and the watch loop moves on.
func (o *Orchestrator) runDebugger(ctx context.Context, id, buildLogs string) error {
	o.setAgent(id, models.RoleDebugger, models.AgentActive, "Correction du build")

	_, err := o.runAgent(ctx, id, models.RoleDebugger, agent.RunOptions{
		SystemPrompt: prompt.DebuggerSystem,
		Prompt:       prompt.Debug(buildLogs),
		MaxTurns:     5,
		AllowedTools: fullTools,
	})
	if err != nil {
		if isCancelled(err) {
			return err
		}
		o.setAgent(id, models.RoleDebugger, models.AgentError, "")
		o.emit(id, models.RoleDebugger, "Correction en échec: "+err.Error(), models.EventWarning)
		return nil
	}

	o.setAgent(id, models.RoleDebugger, models.AgentDone, "")
	o.emit(id, models.RoleDebugger, "Correctif appliqué", models.EventSuccess)
	return nil
}

// runQA performs the read-only review pass and commits any outstanding
// local changes. Non-fatal except on cancellation.
func (o *Orchestrator) runQA(ctx context.Context, id string) error {
	o.setPhase(id, models.PhaseQA)
	o.setAgent(id, models.RoleQA, models.AgentActive, "Revue qualité")

	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}

	res, err := o.runAgent(ctx, id, models.RoleQA, agent.RunOptions{
		SystemPrompt: prompt.QASystem,
		Prompt:       prompt.QA(p.Description),
		MaxTurns:     5,
		AllowedTools: readOnlyTools,
	})
	if err != nil {
		if isCancelled(err) {
			return err
		}
		o.setAgent(id, models.RoleQA, models.AgentError, "")
		o.emit(id, models.RoleQA, "Revue qualité en échec: "+err.Error(), models.EventWarning)
		return nil
	}

	if p.GitHub != nil {
		if err := o.push(ctx, id, msgQA); err != nil {
			o.emit(id, models.RoleQA, "Push QA en échec: "+err.Error(), models.EventError)
		}
	}

	o.setAgent(id, models.RoleQA, models.AgentDone, "")
	o.emit(id, models.RoleQA, tools.Truncate(res.FinalResult, 500), models.EventSuccess)
	return nil
}

// executeModify runs the out-of-band modification pass: reclone if the
// workspace vanished, apply the instructions, push, watch, review.
func (o *Orchestrator) executeModify(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}
	var req modificationRequest
	if found, err := p.Artifact(ArtifactPendingMod, &req); !found || err != nil {
		return fmt.Errorf("modify: no pending modification")
	}

	if _, err := os.Stat(p.Workspace); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Workspace, 0o755); err != nil {
			return fmt.Errorf("modify: recreate workspace: %w", err)
		}
		if p.GitHub != nil && o.repo.Configured() {
			authed := o.repo.AuthedURL(p.GitHub.Owner, p.GitHub.Repo)
			if err := o.repo.Clone(ctx, authed, p.Workspace); err != nil {
				return fmt.Errorf("modify: reclone: %w", err)
			}
		}
	}

	o.setAgent(id, models.RoleDeveloper, models.AgentActive, "Modification en cours")
	o.emit(id, models.RoleDeveloper, "Modification: "+tools.Truncate(req.Instructions, 120), models.EventInfo)

	_, err := o.runAgent(ctx, id, models.RoleDeveloper, agent.RunOptions{
		SystemPrompt: prompt.DeveloperSystem,
		Prompt:       prompt.Modify(req.Instructions),
		Attachments:  req.Attachments,
		MaxTurns:     15,
		AllowedTools: fullTools,
	})
	if err != nil {
		return fmt.Errorf("modify: %w", err)
	}
	o.setAgent(id, models.RoleDeveloper, models.AgentDone, "")

	if err := o.push(ctx, id, modMessage(req.Instructions)); err != nil {
		o.emit(id, models.RoleDeveloper, "Push de la modification en échec: "+err.Error(), models.EventError)
	}

	if p.Deploy != nil {
		if err := o.watchBuild(ctx, id); err != nil {
			return err
		}
	}
	return o.runQA(ctx, id)
}

// push stages, commits, and pushes the workspace with the given message.
// Without a remote repo the commit stays local.
func (o *Orchestrator) push(ctx context.Context, id, message string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrPipelineNotFound
	}
	authed := ""
	if p.GitHub != nil && o.repo.Configured() {
		authed = o.repo.AuthedURL(p.GitHub.Owner, p.GitHub.Repo)
	}
	return o.repo.PushAll(ctx, p.Workspace, message, authed)
}
