package models

import "time"

// AgentRole is one of the five fixed pipeline roles.
type AgentRole string

// The fixed agent roster, in execution order.
const (
	RoleAnalyst   AgentRole = "Analyst"
	RoleArchitect AgentRole = "Architect"
	RoleDeveloper AgentRole = "Developer"
	RoleDebugger  AgentRole = "Debugger"
	RoleQA        AgentRole = "QA"
)

// AgentStatus is the display state of one role within a pipeline.
type AgentStatus string

// Agent statuses.
const (
	AgentWaiting AgentStatus = "waiting"
	AgentActive  AgentStatus = "active"
	AgentDone    AgentStatus = "done"
	AgentError   AgentStatus = "error"
)

var roleEmojis = map[AgentRole]string{
	RoleAnalyst:   "🔍",
	RoleArchitect: "📐",
	RoleDeveloper: "💻",
	RoleDebugger:  "🔧",
	RoleQA:        "✅",
}

// Emoji returns the display emoji for a role.
func (r AgentRole) Emoji() string {
	if e, ok := roleEmojis[r]; ok {
		return e
	}
	return "🤖"
}

// AgentView is the status projection of one role in one pipeline.
type AgentView struct {
	Role          AgentRole   `json:"role"`
	Emoji         string      `json:"emoji"`
	Status        AgentStatus `json:"status"`
	CurrentAction string      `json:"currentAction,omitempty"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

// NewAgentRoster returns the fixed agent list, all waiting.
func NewAgentRoster() []AgentView {
	roles := []AgentRole{RoleAnalyst, RoleArchitect, RoleDeveloper, RoleDebugger, RoleQA}
	out := make([]AgentView, 0, len(roles))
	for _, r := range roles {
		out = append(out, AgentView{Role: r, Emoji: r.Emoji(), Status: AgentWaiting})
	}
	return out
}
