package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fabriq/fabriq/pkg/agent"
	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/tools"
)

// runPipeline is the full worker path: analysis through QA. Any error
// lands the pipeline in failed; cancellation carries the manual stop
// reason.
func (o *Orchestrator) runPipeline(ctx context.Context, id string) {
	err := o.executePhases(ctx, id)
	switch {
	case err == nil:
	case isCancelled(err):
		o.failPipeline(id, ManualStopReason)
	default:
		o.failPipeline(id, err.Error())
	}
}

func (o *Orchestrator) executePhases(ctx context.Context, id string) error {
	if err := o.runAnalysis(ctx, id); err != nil {
		return err
	}
	if err := o.runArchitecture(ctx, id); err != nil {
		return err
	}
	if err := o.runScaffold(ctx, id); err != nil {
		return err
	}
	if err := o.runDevelopment(ctx, id); err != nil {
		return err
	}
	if err := o.runQA(ctx, id); err != nil {
		return err
	}
	o.complete(id)
	return nil
}

// runModify is the out-of-band worker path started by ModifyPipeline.
func (o *Orchestrator) runModify(ctx context.Context, id string) {
	err := o.executeModify(ctx, id)
	switch {
	case err == nil:
		o.update(id, func(p *models.Pipeline) {
			delete(p.Artifacts, ArtifactPendingMod)
		})
		o.complete(id)
	case isCancelled(err):
		o.failPipeline(id, ManualStopReason)
	default:
		o.failPipeline(id, err.Error())
	}
}

// complete moves the pipeline to its final successful state.
func (o *Orchestrator) complete(id string) {
	o.setPhase(id, models.PhaseCompleted)
	if o.metrics != nil {
		o.metrics.PipelinesCompleted.Inc()
	}

	p, ok := o.snapshot(id)
	if !ok {
		return
	}
	msg := "Projet terminé"
	if p.GitHub != nil {
		msg += " " + p.GitHub.URL
	}
	if p.Deploy != nil && p.Deploy.URL != "" {
		msg += " " + p.Deploy.URL
	}
	o.emit(id, models.RoleQA, msg, models.EventSuccess)
	o.logger.Info("Pipeline completed", "pipeline_id", id)
}

// runAgent executes one agent invocation for the pipeline, wiring the
// event sink, token accounting, and metrics.
func (o *Orchestrator) runAgent(ctx context.Context, id string, role models.AgentRole, opts agent.RunOptions) (agent.Result, error) {
	p, ok := o.snapshot(id)
	if !ok {
		return agent.Result{}, ErrPipelineNotFound
	}

	opts.Role = role
	opts.Sink = func(action string, typ models.EventType) {
		o.emit(id, role, action, typ)
	}

	runner := agent.NewRunner(o.llm, tools.NewExecutor(p.Workspace), o.logger)
	res := runner.Run(ctx, opts)

	o.update(id, func(p *models.Pipeline) {
		p.AddTokens(res.Usage.InputTokens, res.Usage.OutputTokens)
	})
	if o.metrics != nil {
		o.metrics.InputTokens.Add(float64(res.Usage.InputTokens))
		o.metrics.OutputTokens.Add(float64(res.Usage.OutputTokens))
		outcome := "success"
		if !res.Success {
			outcome = "error"
		}
		o.metrics.AgentRuns.WithLabelValues(string(role), outcome).Inc()
		o.metrics.AgentDuration.WithLabelValues(string(role)).Observe(res.Duration.Seconds())
	}
	o.persist()

	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// setAgent updates one role's display status.
func (o *Orchestrator) setAgent(id string, role models.AgentRole, status models.AgentStatus, action string) {
	o.update(id, func(p *models.Pipeline) {
		p.SetAgentStatus(role, status, action)
	})
}

// isCancelled reports whether err stems from a kill or shutdown.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || llm.IsCancelled(err)
}

// featureProgress computes the development progress for feature i of n.
func featureProgress(i, n int) int {
	if n <= 0 {
		return 40
	}
	return 40 + int(float64(i)/float64(n)*30+0.5)
}

// featureLabel renders "Feature i/n: text" for agent status lines.
func featureLabel(i, n int, text string) string {
	return "Feature " + strconv.Itoa(i+1) + "/" + strconv.Itoa(n) + ": " + tools.Truncate(text, 80)
}

// commit message prefixes fixed by the product.
const (
	msgScaffold = "feat: initial scaffold by fabriq"
	msgFix      = "fix: build error correction"
	msgQA       = "chore: QA fixes"
)

func modMessage(instructions string) string {
	if len(instructions) > 50 {
		instructions = instructions[:50]
	}
	return fmt.Sprintf("mod: %s", instructions)
}
