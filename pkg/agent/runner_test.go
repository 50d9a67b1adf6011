package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/llm/llmtest"
	"github.com/fabriq/fabriq/pkg/models"
	"github.com/fabriq/fabriq/pkg/tools"
)

func newRunner(client llm.Client, ws string) *Runner {
	return NewRunner(client, tools.NewExecutor(ws), nil)
}

func TestRunEndsOnEndTurn(t *testing.T) {
	client := llmtest.NewQueue(
		llmtest.Step{Response: llmtest.Text("all done")},
	)
	r := newRunner(client, t.TempDir())

	res := r.Run(context.Background(), RunOptions{Prompt: "go"})
	require.True(t, res.Success)
	assert.Equal(t, "all done", res.FinalResult)
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 20}, res.Usage)
	assert.Len(t, client.Calls(), 1)
}

func TestRunExecutesToolAndFeedsResultBack(t *testing.T) {
	ws := t.TempDir()
	client := llmtest.NewQueue(
		llmtest.Step{Response: llmtest.ToolUse("call-1", tools.ToolWriteFile, map[string]any{
			"path": "index.html", "content": "<h1>hi</h1>",
		})},
		llmtest.Step{Response: llmtest.Text("file written")},
	)
	r := newRunner(client, ws)

	res := r.Run(context.Background(), RunOptions{Prompt: "create the page"})
	require.True(t, res.Success)
	assert.Equal(t, "file written", res.FinalResult)

	data, err := os.ReadFile(filepath.Join(ws, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))

	calls := client.Calls()
	require.Len(t, calls, 2)
	// Second call must carry the assistant turn and the tool result.
	second := calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	require.Len(t, second[2].Content, 1)
	assert.Equal(t, llm.BlockToolResult, second[2].Content[0].Type)
	assert.Equal(t, "call-1", second[2].Content[0].ToolUseID)
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	client := llmtest.NewRouted(func(req *llm.MessageRequest) llmtest.Step {
		// Never end_turn: always request another tool call.
		return llmtest.Step{Response: llmtest.ToolUse("c", tools.ToolListDir, map[string]any{"path": "."})}
	})
	r := newRunner(client, t.TempDir())

	res := r.Run(context.Background(), RunOptions{Prompt: "loop", MaxTurns: 3})
	require.True(t, res.Success)
	assert.Len(t, client.Calls(), 3)
}

func TestRunExitsOnStopWithoutToolUse(t *testing.T) {
	client := llmtest.NewQueue(
		llmtest.Step{Response: &llm.Response{
			StopReason: llm.StopMaxTokens,
			Content:    []llm.ContentBlock{llm.TextBlock("truncated reply")},
		}},
	)
	r := newRunner(client, t.TempDir())

	res := r.Run(context.Background(), RunOptions{Prompt: "go"})
	require.True(t, res.Success)
	assert.Equal(t, "truncated reply", res.FinalResult)
	assert.Len(t, client.Calls(), 1)
}

func TestRunReportsLLMError(t *testing.T) {
	client := llmtest.NewQueue(
		llmtest.Step{Err: &llm.APIError{Class: llm.ClassServer, Body: "boom"}},
	)
	r := newRunner(client, t.TempDir())

	res := r.Run(context.Background(), RunOptions{Prompt: "go"})
	assert.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestRunCancellation(t *testing.T) {
	client := llmtest.NewQueue(llmtest.Step{Block: true})
	r := newRunner(client, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := r.Run(ctx, RunOptions{Prompt: "go"})
	assert.False(t, res.Success)
	assert.True(t, llm.IsCancelled(res.Err))
}

func TestRunTimeout(t *testing.T) {
	client := llmtest.NewRouted(func(req *llm.MessageRequest) llmtest.Step {
		time.Sleep(30 * time.Millisecond)
		return llmtest.Step{Response: llmtest.ToolUse("c", tools.ToolListDir, map[string]any{"path": "."})}
	})
	r := newRunner(client, t.TempDir())

	res := r.Run(context.Background(), RunOptions{Prompt: "go", Timeout: 50 * time.Millisecond, MaxTurns: 100})
	require.True(t, res.Success)
	assert.Less(t, len(client.Calls()), 100)
}

func TestToolResultTruncatedInEventsButNotFeedback(t *testing.T) {
	ws := t.TempDir()
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws, "big.txt"), big, 0o644))

	client := llmtest.NewQueue(
		llmtest.Step{Response: llmtest.ToolUse("c1", tools.ToolReadFile, map[string]any{"path": "big.txt"})},
		llmtest.Step{Response: llmtest.Text("ok")},
	)
	r := newRunner(client, ws)

	var eventSizes []int
	res := r.Run(context.Background(), RunOptions{
		Prompt: "read it",
		Sink: func(action string, _ models.EventType) {
			eventSizes = append(eventSizes, len(action))
		},
	})
	require.True(t, res.Success)

	for _, size := range eventSizes {
		assert.LessOrEqual(t, size, MaxEventAction)
	}
	// The model still received the full 2000 chars.
	second := client.Calls()[1].Messages
	assert.Len(t, second[2].Content[0].Content, 2000)
}

func TestUnsupportedAttachmentDropped(t *testing.T) {
	client := llmtest.NewQueue(llmtest.Step{Response: llmtest.Text("ok")})
	r := newRunner(client, t.TempDir())

	var warned bool
	res := r.Run(context.Background(), RunOptions{
		Prompt: "go",
		Attachments: []Attachment{
			{MediaType: "image/png", Data: "aGVsbG8="},
			{MediaType: "application/pdf", Data: "aGVsbG8="},
		},
		Sink: func(action string, typ models.EventType) {
			if typ == models.EventWarning {
				warned = true
			}
		},
	})
	require.True(t, res.Success)
	assert.True(t, warned)

	blocks := client.Calls()[0].Messages[0].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, llm.BlockText, blocks[0].Type)
	assert.Equal(t, llm.BlockImage, blocks[1].Type)
	assert.Equal(t, "image/png", blocks[1].Source.MediaType)
}
