// Package api exposes the orchestrator over HTTP: a REST surface for the
// dashboard and a websocket stream of live pipeline events.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabriq/fabriq/pkg/agent"
	"github.com/fabriq/fabriq/pkg/metrics"
	"github.com/fabriq/fabriq/pkg/orchestrator"
	"github.com/fabriq/fabriq/pkg/version"
)

// Server wires the HTTP routes to the orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	logger  *slog.Logger
	engine  *gin.Engine
}

// NewServer builds the gin engine with all routes registered.
func NewServer(orch *orchestrator.Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		orch:    orch,
		metrics: m,
		logger:  logger,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/pipelines", s.handleLaunch)
	v1.GET("/pipelines", s.handleList)
	v1.GET("/pipelines/:id", s.handleGet)
	v1.GET("/pipelines/:id/events", s.handleEvents)
	v1.POST("/pipelines/:id/kill", s.handleKill)
	v1.POST("/pipelines/:id/modify", s.handleModify)
	v1.DELETE("/pipelines/:id", s.handleDelete)
	v1.GET("/events/ws", s.handleEventStream)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

type launchRequest struct {
	Description string             `json:"description" binding:"required"`
	Name        string             `json:"name"`
	Attachments []agent.Attachment `json:"attachments"`
}

func (s *Server) handleLaunch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}

	p, err := s.orch.LaunchIdea(req.Description, req.Name, req.Attachments)
	if err != nil {
		s.logger.Error("Launch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pipelines": s.orch.ListPipelines()})
}

func (s *Server) handleGet(c *gin.Context) {
	p, err := s.orch.GetPipeline(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleEvents(c *gin.Context) {
	p, err := s.orch.GetPipeline(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": p.Events})
}

func (s *Server) handleKill(c *gin.Context) {
	if err := s.orch.KillPipeline(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed"})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.orch.DeletePipeline(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type modifyRequest struct {
	Instructions string             `json:"instructions" binding:"required"`
	Attachments  []agent.Attachment `json:"attachments"`
}

func (s *Server) handleModify(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instructions are required"})
		return
	}

	err := s.orch.ModifyPipeline(c.Param("id"), req.Instructions, req.Attachments)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "modification started"})
	case errors.Is(err, orchestrator.ErrPipelineNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
	case errors.Is(err, orchestrator.ErrNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "not_terminal"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
