package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabriq/fabriq/pkg/models"
)

func TestExplicitTypeWins(t *testing.T) {
	a := Analysis{Type: "api", Summary: "un bot python"}
	assert.Equal(t, models.TypeAPI, ProjectType(a))
}

func TestStaticLandingPage(t *testing.T) {
	a := Analysis{
		Summary: "Landing page pour une cafétéria",
		Stack:   Stack{Backend: "none", Frontend: "HTML/CSS"},
	}
	// "cafétéria" must not trip the ia/ml rule.
	assert.Equal(t, models.TypeStatic, ProjectType(a))
}

func TestPythonWorkerFromSummary(t *testing.T) {
	a := Analysis{
		Summary: "Bot Python qui scrape des annonces et affiche un dashboard",
		Stack:   Stack{Backend: "Python", Frontend: "Flask templates"},
	}
	assert.Equal(t, models.TypePythonWorker, ProjectType(a))
}

func TestPythonWorkerFromMLKeyword(t *testing.T) {
	a := Analysis{
		Summary: "Un outil de ml pour prédire les ventes",
		Stack:   Stack{Backend: "unspecified"},
	}
	assert.Equal(t, models.TypePythonWorker, ProjectType(a))
}

func TestNodeWorker(t *testing.T) {
	a := Analysis{
		Summary: "Un bot Discord qui tourne en continu",
		Stack:   Stack{Backend: "Node.js"},
	}
	assert.Equal(t, models.TypeNodeWorker, ProjectType(a))
}

func TestSPA(t *testing.T) {
	a := Analysis{
		Summary: "Application de gestion de budget",
		Stack:   Stack{Backend: "", Frontend: "React + Vite"},
	}
	assert.Equal(t, models.TypeSPA, ProjectType(a))
}

func TestAPIWithoutFrontend(t *testing.T) {
	a := Analysis{
		Summary: "Service REST de gestion de stock",
		Stack:   Stack{Backend: "Express", Frontend: ""},
	}
	assert.Equal(t, models.TypeAPI, ProjectType(a))
}

func TestFullstackFallback(t *testing.T) {
	a := Analysis{
		Summary: "Boutique en ligne complète",
		Stack:   Stack{Backend: "Node.js + Express", Frontend: "React"},
	}
	assert.Equal(t, models.TypeFullstack, ProjectType(a))
}

func TestPorts(t *testing.T) {
	assert.Equal(t, 80, Port(models.TypeStatic))
	assert.Equal(t, 80, Port(models.TypeSPA))
	assert.Equal(t, 3000, Port(models.TypeAPI))
	assert.Equal(t, 3000, Port(models.TypeFullstack))
	assert.Equal(t, 3000, Port(models.TypeNodeWorker))
	assert.Equal(t, 8080, Port(models.TypePythonWorker))
	assert.Equal(t, 80, Port(models.TypeUnknown))
}

func TestTemplates(t *testing.T) {
	static := For(models.TypeStatic)
	assert.Contains(t, static.Dockerfile, "nginx")
	assert.Contains(t, static.Dockerfile, "EXPOSE 80")

	spa := For(models.TypeSPA)
	assert.Contains(t, spa.Dockerfile, "npm run build")
	assert.Contains(t, spa.Dockerfile, "nginx")

	api := For(models.TypeAPI)
	assert.Contains(t, api.Dockerfile, "EXPOSE 3000")

	python := For(models.TypePythonWorker)
	assert.Contains(t, python.Dockerfile, "supervisord")
	assert.Contains(t, python.Dockerfile, "EXPOSE 8080")

	node := For(models.TypeNodeWorker)
	assert.Contains(t, node.Dockerfile, "EXPOSE 3000")

	full := For(models.TypeFullstack)
	assert.Contains(t, full.Dockerfile, "EXPOSE 3000")

	// Unknown types fall back to static.
	assert.Equal(t, static, For(models.TypeUnknown))

	for _, typ := range []models.ProjectType{
		models.TypeStatic, models.TypeSPA, models.TypeAPI,
		models.TypeFullstack, models.TypeNodeWorker, models.TypePythonWorker,
	} {
		tpl := For(typ)
		assert.NotEmpty(t, tpl.Architecture, typ)
		assert.NotEmpty(t, tpl.Scaffold, typ)
	}
}
