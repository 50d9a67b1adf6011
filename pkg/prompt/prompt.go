// Package prompt holds the role system prompts and the user prompt
// builders used by the phase runners.
package prompt

import (
	"fmt"
	"strings"
)

// System prompts, one per agent role.
const (
	AnalystSystem = `You are a senior product analyst. You turn a raw project
idea into a precise, buildable specification. You answer with a single JSON
object and nothing else. Keep the project name as a short lowercase slug
(dash-separated, 30 characters max). Be concrete: list real features a
developer can implement, not aspirations.`

	ArchitectSystem = `You are a pragmatic software architect. You design the
smallest architecture that delivers the requested features. You answer with a
single JSON object and nothing else. Prefer boring, well-known tools. The
file structure must list actual file paths. Features must be ordered by
implementation priority.`

	DeveloperSystem = `You are an expert full-stack developer working inside a
project workspace through tools. You write complete, working files; never
placeholders or TODO stubs. After writing code, verify it with the available
tools when useful. Keep the code minimal and production-quality.`

	DebuggerSystem = `You are a build-failure debugger. You are given the build
log of a failed deployment. Find the root cause, fix the relevant files in
the workspace with the tools, and explain the fix in one short sentence. Do
not refactor beyond the fix.`

	QASystem = `You are a QA reviewer. You inspect the project files read-only
and report a quality assessment. Answer with a short summary: an overall
score out of 10, then a bullet list of concrete issues found, most severe
first. Do not modify anything.`
)

// Analysis builds the analyst user prompt for a raw project idea.
func Analysis(description string) string {
	return fmt.Sprintf(`Analyze this project idea and produce its specification.

Idea:
%s

Reply with exactly one JSON object:
{
  "name": "short-slug",
  "summary": "one paragraph",
  "type": "static | spa | fullstack | api | python-worker | node-worker",
  "features": ["feature 1", "feature 2", ...],
  "userStories": ["as a ..., I want ...", ...],
  "stack": {"backend": "...", "frontend": "...", "database": "..."},
  "targetAudience": "..."
}`, description)
}

// Architecture builds the architect user prompt from the analysis artifact,
// the type-specific guidance, and any catalog skills found.
func Architecture(analysisJSON, guidance, dockerfile string, skills []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Design the architecture for this analyzed project.

Analysis:
%s

Constraints for this project type:
%s

The deployment Dockerfile will follow this template, design accordingly:
%s
`, analysisJSON, guidance, dockerfile)

	if len(skills) > 0 {
		b.WriteString("\nRelevant reference material:\n")
		for _, s := range skills {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	b.WriteString(`
Reply with exactly one JSON object:
{
  "stack": {"backend": "...", "frontend": "...", "database": "..."},
  "fileStructure": ["path/one", "path/two", ...],
  "endpoints": [{"method": "GET", "path": "/...", "description": "..."}],
  "features": ["feature 1 (ordered by priority)", ...]
}`)
	return b.String()
}

// Scaffold builds the developer prompt that creates the project skeleton.
// The Dockerfile must match the template; COPY lines must never carry
// shell-style redirections, heredocs break the deployment builder.
func Scaffold(architectureJSON, guidance, dockerfile string) string {
	return fmt.Sprintf(`Create the initial project skeleton in the workspace.

Architecture:
%s

Files to create:
%s

Write a Dockerfile that matches this template exactly, adjusted only for the
actual file names of this project:
%s

Rules:
- Every file must be complete and syntactically valid.
- Never use shell redirections (>, >>, <<) inside Dockerfile COPY lines.
- Do not implement the features yet, only the skeleton and the Dockerfile.`,
		architectureJSON, guidance, dockerfile)
}

// Feature builds the developer prompt for one feature iteration.
func Feature(feature, architectureJSON string) string {
	return fmt.Sprintf(`Implement this feature completely:

%s

Project architecture for reference:
%s

Modify or create whatever files are needed. The code must work as-is after
your changes; verify with the tools when useful.`, feature, architectureJSON)
}

// Debug builds the debugger prompt from captured build logs.
func Debug(buildLogs string) string {
	return fmt.Sprintf(`The last deployment build failed. Here is the build log:

%s

Find the root cause and fix the files in the workspace.`, buildLogs)
}

// QA builds the read-only review prompt.
func QA(description string) string {
	return fmt.Sprintf(`Review the project in the workspace. It was built from
this idea:

%s

Inspect the files and report: a score out of 10, then the concrete issues
found, most severe first.`, description)
}

// Modify builds the developer prompt for a post-completion modification.
func Modify(instructions string) string {
	return fmt.Sprintf(`Apply this modification to the existing project:

%s

Change only what the instruction requires. The project must still build and
run after your changes.`, instructions)
}
