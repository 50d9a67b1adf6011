package models

import "time"

// EventType classifies a pipeline event for display.
type EventType string

// Event types.
const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventDeploy  EventType = "deploy"
)

// PipelineEvent is one observable agent action within a pipeline.
type PipelineEvent struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipelineId"`
	Timestamp  time.Time `json:"timestamp"`
	AgentRole  AgentRole `json:"agentRole"`
	AgentEmoji string    `json:"agentEmoji"`
	Action     string    `json:"action"`
	Type       EventType `json:"type"`
}

// MaxEventsPerPipeline bounds the per-pipeline event ring; overflow drops
// the oldest event (FIFO).
const MaxEventsPerPipeline = 100
