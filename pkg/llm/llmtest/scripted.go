// Package llmtest provides a scripted llm.Client for tests: responses are
// served from a fixed queue or routed by inspecting the request.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fabriq/fabriq/pkg/llm"
)

// Step is one scripted reply.
type Step struct {
	Response *llm.Response
	Err      error
	// Block parks the call until the context is cancelled, then returns a
	// cancelled error. Used to test kill semantics.
	Block bool
}

// ScriptedClient implements llm.Client from a queue of steps or a routing
// function. All calls are recorded.
type ScriptedClient struct {
	mu    sync.Mutex
	queue []Step
	route func(req *llm.MessageRequest) Step
	calls []*llm.MessageRequest
}

// NewQueue creates a client that serves steps in order. Exhausting the
// queue is an error response.
func NewQueue(steps ...Step) *ScriptedClient {
	return &ScriptedClient{queue: steps}
}

// NewRouted creates a client that picks the step per request.
func NewRouted(route func(req *llm.MessageRequest) Step) *ScriptedClient {
	return &ScriptedClient{route: route}
}

// Calls returns the recorded requests.
func (c *ScriptedClient) Calls() []*llm.MessageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.MessageRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// CreateMessage serves the next scripted step.
func (c *ScriptedClient) CreateMessage(ctx context.Context, req *llm.MessageRequest) (*llm.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	var step Step
	switch {
	case c.route != nil:
		step = c.route(req)
	case len(c.queue) > 0:
		step = c.queue[0]
		c.queue = c.queue[1:]
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("scripted client exhausted")
	}
	c.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, &llm.APIError{Class: llm.ClassCancelled, Body: ctx.Err().Error()}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Response == nil {
		return nil, fmt.Errorf("scripted step has no response")
	}
	return step.Response, nil
}

// OneShot serves the next step as plain text.
func (c *ScriptedClient) OneShot(ctx context.Context, system, user string) (string, llm.Usage, error) {
	resp, err := c.CreateMessage(ctx, &llm.MessageRequest{
		System:   system,
		Messages: []llm.Message{llm.UserText(user)},
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return resp.Text(), resp.Usage, nil
}

// Text builds an end_turn response with one text block.
func Text(text string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 20},
	}
}

// ToolUse builds a tool_use response with one call.
func ToolUse(callID, tool string, input map[string]any) *llm.Response {
	raw, _ := json.Marshal(input)
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			{Type: llm.BlockToolUse, ID: callID, Name: tool, Input: raw},
		},
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 20},
	}
}
