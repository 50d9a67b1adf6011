// Package metrics exposes Prometheus collectors for pipeline activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors, registered on a single registry owned by
// the process.
type Metrics struct {
	Registry *prometheus.Registry

	PipelinesLaunched  prometheus.Counter
	PipelinesCompleted prometheus.Counter
	PipelinesFailed    prometheus.Counter
	PipelinesRunning   prometheus.Gauge

	PhaseTransitions *prometheus.CounterVec
	InputTokens      prometheus.Counter
	OutputTokens     prometheus.Counter
	AgentRuns        *prometheus.CounterVec
	AgentDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PipelinesLaunched: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabriq_pipelines_launched_total",
			Help: "Pipelines launched since process start.",
		}),
		PipelinesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabriq_pipelines_completed_total",
			Help: "Pipelines that reached the completed phase.",
		}),
		PipelinesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabriq_pipelines_failed_total",
			Help: "Pipelines that reached the failed phase.",
		}),
		PipelinesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fabriq_pipelines_running",
			Help: "Pipeline workers currently executing.",
		}),
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabriq_phase_transitions_total",
			Help: "Phase transitions by target phase.",
		}, []string{"phase"}),
		InputTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabriq_llm_input_tokens_total",
			Help: "LLM input tokens consumed.",
		}),
		OutputTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "fabriq_llm_output_tokens_total",
			Help: "LLM output tokens consumed.",
		}),
		AgentRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fabriq_agent_runs_total",
			Help: "Agent invocations by role and outcome.",
		}, []string{"role", "outcome"}),
		AgentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fabriq_agent_duration_seconds",
			Help:    "Wall-clock duration of agent invocations by role.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"role"}),
	}
}
