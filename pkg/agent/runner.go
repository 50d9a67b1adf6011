// Package agent runs one bounded conversational loop against the LLM with
// tool use. Every phase runner funnels its role-specific prompt through
// Run; the runner enforces turn, wall-clock, and feedback-size budgets.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/tools"
)

// Defaults for a single Run invocation.
const (
	DefaultMaxTurns = 10
	DefaultTimeout  = 5 * time.Minute
)

// MaxEventAction caps a tool result as shown in the event log. The full
// feedback (up to tools.MaxToolFeedback) still reaches the model.
const MaxEventAction = 500

// Attachment is a base64-encoded media item forwarded to the model.
type Attachment struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

// supportedMedia lists the media types the messages API accepts as image
// blocks. Anything else is dropped with a warning event.
var supportedMedia = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// EventSink receives one human-readable line per observable agent action.
type EventSink func(action string, eventType models.EventType)

// RunOptions configures one agent invocation.
type RunOptions struct {
	Role         models.AgentRole
	SystemPrompt string
	Prompt       string
	Attachments  []Attachment

	// MaxTurns bounds the conversation; zero means DefaultMaxTurns.
	MaxTurns int
	// Timeout bounds the wall clock; zero means DefaultTimeout.
	Timeout time.Duration
	// AllowedTools restricts the tool catalog; nil exposes all four tools.
	AllowedTools []string
	// Sink receives per-action events; nil discards them.
	Sink EventSink
}

// ActionType labels one entry in Result.Actions.
type ActionType string

const (
	ActionText       ActionType = "text"
	ActionToolUse    ActionType = "tool_use"
	ActionToolResult ActionType = "tool_result"
)

// Action is one observable step of the loop.
type Action struct {
	Type    ActionType `json:"type"`
	Tool    string     `json:"tool,omitempty"`
	Content string     `json:"content"`
}

// Result is the outcome of one agent invocation.
type Result struct {
	Success     bool
	Actions     []Action
	FinalResult string
	Err         error
	Duration    time.Duration
	Usage       llm.Usage
}

// Runner drives the tool-use loop for a single pipeline workspace.
type Runner struct {
	client   llm.Client
	executor *tools.Executor
	logger   *slog.Logger
}

// NewRunner creates a runner bound to one workspace executor.
func NewRunner(client llm.Client, executor *tools.Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, executor: executor, logger: logger}
}

// Run executes the bounded loop. It never panics across the boundary:
// LLM transport errors and cancellation are reported in Result.Err with
// Success=false, while tool failures flow back to the model as results.
func (r *Runner) Run(ctx context.Context, opts RunOptions) Result {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = func(string, models.EventType) {}
	}

	start := time.Now()
	deadline := start.Add(timeout)
	catalog := tools.Definitions(opts.AllowedTools)
	messages := []llm.Message{r.initialMessage(opts, sink)}

	var result Result
	var texts []string

	for turn := 0; turn < maxTurns; turn++ {
		if time.Now().After(deadline) {
			r.logger.Warn("Agent timed out", "role", opts.Role, "turn", turn)
			sink("Temps imparti dépassé", models.EventWarning)
			break
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		}

		resp, err := r.client.CreateMessage(ctx, &llm.MessageRequest{
			System:   opts.SystemPrompt,
			Messages: messages,
			Tools:    catalog,
		})
		if err != nil {
			result.Err = err
			result.FinalResult = strings.Join(texts, "\n")
			result.Duration = time.Since(start)
			return result
		}
		result.Usage.Add(resp.Usage)

		var toolResults []llm.ContentBlock
		for _, block := range resp.Content {
			switch block.Type {
			case llm.BlockText:
				text := strings.TrimSpace(block.Text)
				if text == "" {
					continue
				}
				texts = append(texts, text)
				result.Actions = append(result.Actions, Action{Type: ActionText, Content: text})
				sink(tools.Truncate(text, MaxEventAction), models.EventInfo)

			case llm.BlockToolUse:
				label := describeCall(block.Name, block.Input)
				result.Actions = append(result.Actions, Action{Type: ActionToolUse, Tool: block.Name, Content: label})
				sink(label, models.EventInfo)

				output := r.executor.Execute(ctx, block.Name, block.Input)
				feedback := tools.Truncate(output, tools.MaxToolFeedback)
				result.Actions = append(result.Actions, Action{Type: ActionToolResult, Tool: block.Name, Content: tools.Truncate(output, MaxEventAction)})
				sink(tools.Truncate(output, MaxEventAction), models.EventInfo)

				toolResults = append(toolResults, llm.ToolResultBlock(block.ID, feedback, strings.HasPrefix(output, "error:")))
			}
		}

		if resp.StopReason == llm.StopEndTurn {
			break
		}
		// A non-terminal stop with no tool calls would loop forever on the
		// same conversation; bail out instead.
		if len(toolResults) == 0 {
			r.logger.Warn("Agent stopped without end_turn or tool use", "role", opts.Role, "stop_reason", resp.StopReason)
			break
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: toolResults},
		)
	}

	result.Success = true
	result.FinalResult = strings.Join(texts, "\n")
	result.Duration = time.Since(start)
	return result
}

// initialMessage builds the opening user turn, with attachments encoded as
// image blocks when the media type is supported.
func (r *Runner) initialMessage(opts RunOptions, sink EventSink) llm.Message {
	blocks := []llm.ContentBlock{llm.TextBlock(opts.Prompt)}
	for _, att := range opts.Attachments {
		if !supportedMedia[att.MediaType] {
			r.logger.Warn("Dropping unsupported attachment", "media_type", att.MediaType)
			sink(fmt.Sprintf("Pièce jointe ignorée (type %s non supporté)", att.MediaType), models.EventWarning)
			continue
		}
		blocks = append(blocks, llm.ImageBlock(att.MediaType, att.Data))
	}
	return llm.Message{Role: llm.RoleUser, Content: blocks}
}

// describeCall renders a tool_use block as a one-line event.
func describeCall(name string, input json.RawMessage) string {
	var in struct {
		Path    string `json:"path"`
		Command string `json:"command"`
	}
	_ = json.Unmarshal(input, &in)
	switch {
	case in.Command != "":
		return fmt.Sprintf("%s: %s", name, tools.Truncate(in.Command, 120))
	case in.Path != "":
		return fmt.Sprintf("%s: %s", name, in.Path)
	default:
		return name
	}
}
