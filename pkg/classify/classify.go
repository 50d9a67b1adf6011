// Package classify maps an analysis artifact to a project type and
// provides the deterministic per-type templates used in prompts and
// deployment.
package classify

import (
	"regexp"
	"strings"

	"github.com/fabriq/fabriq/pkg/models"
)

// Stack is the technology triple of an analyzed project.
type Stack struct {
	Backend  string `json:"backend"`
	Frontend string `json:"frontend"`
	Database string `json:"database"`
}

// Analysis is the artifact produced by the analyst agent.
type Analysis struct {
	Name           string   `json:"name"`
	Summary        string   `json:"summary"`
	Type           string   `json:"type"`
	Features       []string `json:"features"`
	UserStories    []string `json:"userStories"`
	Stack          Stack    `json:"stack"`
	TargetAudience string   `json:"targetAudience"`
}

// Endpoint is one HTTP route in the architecture artifact.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Architecture is the artifact produced by the architect agent. Features
// are ordered by implementation priority and drive the development loop.
type Architecture struct {
	Stack         Stack      `json:"stack"`
	FileStructure []string   `json:"fileStructure"`
	Endpoints     []Endpoint `json:"endpoints"`
	Features      []string   `json:"features"`
}

// Classification patterns. "ia" and "ml" need word boundaries: bare
// alternatives would match inside ordinary words ("cafétéria", "html").
var (
	pythonBackendPattern = regexp.MustCompile(`(?i)python|flask|fastapi|django`)
	pythonHintPattern    = regexp.MustCompile(`(?i)python|flask|fastapi|django|pandas|scraper|bot|cron|daemon|trading|data.sci|machine.learn|\b(ia|ml)\b`)
	nodeBackendPattern   = regexp.MustCompile(`(?i)node|express`)
	workerHintPattern    = regexp.MustCompile(`(?i)bot|scraper|cron|daemon|worker`)
	frontendPattern      = regexp.MustCompile(`(?i)react|vue|svelte|angular|vite|next|nuxt|remix`)
	noValuePattern       = regexp.MustCompile(`(?i)^(none|aucun|aucune|no|n/?a|static|-)?$`)
)

// ProjectType decides the project type from an analysis artifact.
// A known explicit type wins; otherwise the stack and summary are
// inspected, first match in order.
func ProjectType(a Analysis) models.ProjectType {
	if explicit := strings.TrimSpace(a.Type); models.KnownProjectType(explicit) {
		return models.ProjectType(explicit)
	}

	backend := strings.TrimSpace(a.Stack.Backend)
	frontend := strings.TrimSpace(a.Stack.Frontend)
	summary := a.Summary

	hasBackend := !noValuePattern.MatchString(backend)
	hasFrontendFramework := frontendPattern.MatchString(frontend)

	// A Node backend keeps bot/scraper summaries out of the python rule,
	// otherwise node-worker would be unreachable.
	switch {
	case pythonBackendPattern.MatchString(backend),
		pythonHintPattern.MatchString(summary) && !nodeBackendPattern.MatchString(backend):
		return models.TypePythonWorker
	case nodeBackendPattern.MatchString(backend) && workerHintPattern.MatchString(summary):
		return models.TypeNodeWorker
	case !hasBackend && hasFrontendFramework:
		return models.TypeSPA
	case !hasBackend:
		return models.TypeStatic
	case !hasFrontendFramework && noValuePattern.MatchString(frontend):
		return models.TypeAPI
	default:
		return models.TypeFullstack
	}
}

// ports maps a project type to the container port exposed to the
// deployment domain.
var ports = map[models.ProjectType]int{
	models.TypeStatic:       80,
	models.TypeSPA:          80,
	models.TypeAPI:          3000,
	models.TypeFullstack:    3000,
	models.TypeNodeWorker:   3000,
	models.TypePythonWorker: 8080,
}

// Port returns the exposed port for a project type; unknown types fall
// back to 80.
func Port(t models.ProjectType) int {
	if p, ok := ports[t]; ok {
		return p
	}
	return 80
}
