// Package tools executes the four agent tools inside a pipeline workspace.
// Tool failures are returned as tool results, never as Go errors: the
// model sees the failure text and can react.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fabriq/fabriq/pkg/llm"
)

// Canonical tool names.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListDir   = "list_dir"
	ToolBash      = "bash"
)

// MaxToolFeedback caps a tool result before it is fed back to the model.
const MaxToolFeedback = 10000

// defaultBashTimeout is the wall-clock limit for one shell command.
const defaultBashTimeout = 60 * time.Second

// Executor runs tools with all paths clamped inside the workspace.
type Executor struct {
	workspace   string
	bashTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBashTimeout overrides the shell command wall-clock limit.
func WithBashTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.bashTimeout = d }
}

// NewExecutor creates an executor rooted at the workspace directory.
func NewExecutor(workspace string, opts ...ExecutorOption) *Executor {
	e := &Executor{workspace: workspace, bashTimeout: defaultBashTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workspace returns the executor's root directory.
func (e *Executor) Workspace() string { return e.workspace }

var canonicalTools = []llm.Tool{
	{
		Name:        ToolReadFile,
		Description: "Read a UTF-8 file from the project workspace.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path relative to the workspace root."},
			},
			"required": []string{"path"},
		},
	},
	{
		Name:        ToolWriteFile,
		Description: "Write a file in the project workspace, creating parent directories and overwriting any existing content.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to the workspace root."},
				"content": map[string]any{"type": "string", "description": "Full file content."},
			},
			"required": []string{"path", "content"},
		},
	},
	{
		Name:        ToolListDir,
		Description: "List a workspace directory, one entry per line, marked file or directory.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory path relative to the workspace root."},
			},
			"required": []string{"path"},
		},
	},
	{
		Name:        ToolBash,
		Description: "Run a shell command in the workspace. Commands are killed after 60 seconds; non-zero exit codes are reported, not fatal.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to run."},
			},
			"required": []string{"command"},
		},
	},
}

// Definitions returns the tool catalog exposed to the model. allowed
// restricts the catalog to a subset of the canonical names; nil means all.
func Definitions(allowed []string) []llm.Tool {
	if allowed == nil {
		out := make([]llm.Tool, len(canonicalTools))
		copy(out, canonicalTools)
		return out
	}
	var out []llm.Tool
	for _, t := range canonicalTools {
		for _, name := range allowed {
			if t.Name == name {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

type toolInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Command string `json:"command"`
}

// Execute runs one tool call and returns its result text. Errors are
// reported in the result, never raised; unknown tool names yield an
// unknown_tool result.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) string {
	var in toolInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return fmt.Sprintf("error: invalid tool input: %v", err)
		}
	}

	switch name {
	case ToolReadFile:
		return e.readFile(in.Path)
	case ToolWriteFile:
		return e.writeFile(in.Path, in.Content)
	case ToolListDir:
		return e.listDir(in.Path)
	case ToolBash:
		return e.bash(ctx, in.Command)
	default:
		return fmt.Sprintf("unknown_tool: %s", name)
	}
}

// resolvePath clamps a tool-supplied path inside the workspace. Absolute
// paths and ".." traversal are re-rooted at the workspace, never rejected.
func (e *Executor) resolvePath(p string) string {
	cleaned := filepath.Clean("/" + strings.TrimSpace(p))
	return filepath.Join(e.workspace, cleaned)
}

func (e *Executor) readFile(path string) string {
	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}

func (e *Executor) writeFile(path, content string) string {
	full := e.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path)
}

func (e *Executor) listDir(path string) string {
	entries, err := os.ReadDir(e.resolvePath(path))
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var b strings.Builder
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "[%s] %s\n", kind, entry.Name())
	}
	if b.Len() == 0 {
		return "(empty directory)"
	}
	return b.String()
}

// pipeAbandonDelay bounds how long Wait keeps the output pipes open after
// the kill, in case a descendant escaped the process group.
const pipeAbandonDelay = 2 * time.Second

func (e *Executor) bash(ctx context.Context, command string) string {
	if strings.TrimSpace(command) == "" {
		return "error: empty command"
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = e.workspace
	// The shell gets its own process group; killing only sh would leave
	// backgrounded children holding the output pipes open and block
	// CombinedOutput far past the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = pipeAbandonDelay
	out, err := cmd.CombinedOutput()
	result := string(out)

	switch {
	case cmdCtx.Err() == context.DeadlineExceeded:
		result += fmt.Sprintf("\n[command timed out after %s]", e.bashTimeout)
	case ctx.Err() != nil:
		result += "\n[command cancelled]"
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result += fmt.Sprintf("\n[exit code %d]", exitErr.ExitCode())
		} else {
			result += fmt.Sprintf("\nerror: %v", err)
		}
	}
	return result
}

// Truncate caps s at limit bytes, marker included, never splitting a
// UTF-8 rune.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "\n[truncated]"
	cut := limit - len(marker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
