// Command fabriq runs the idea-to-app pipeline orchestrator and its HTTP
// API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fabriq/fabriq/pkg/api"
	"github.com/fabriq/fabriq/pkg/config"
	"github.com/fabriq/fabriq/pkg/deploy"
	"github.com/fabriq/fabriq/pkg/events"
	"github.com/fabriq/fabriq/pkg/gitrepo"
	"github.com/fabriq/fabriq/pkg/llm"
	"github.com/fabriq/fabriq/pkg/metrics"
	"github.com/fabriq/fabriq/pkg/orchestrator"
	"github.com/fabriq/fabriq/pkg/skills"
	"github.com/fabriq/fabriq/pkg/store"
	"github.com/fabriq/fabriq/pkg/version"
)

const (
	httpShutdownTimeout   = 10 * time.Second
	workerShutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; absence is the normal production case.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("Starting", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m := metrics.New()
	pub := events.NewPublisher()
	st := store.New(cfg.StorePath)

	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModels, llm.WithLogger(logger))
	repoClient := gitrepo.NewClient(cfg.RepoOwner, cfg.RepoToken, logger)
	deployClient := deploy.NewClient(cfg.DeployURL, cfg.DeployToken, cfg.DeployBaseDomain, logger)
	skillsClient := skills.NewClient(cfg.SkillsURL, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Store:         st,
		Publisher:     pub,
		LLM:           llmClient,
		Repo:          repoClient,
		Deploy:        deployClient,
		Skills:        skillsClient,
		Metrics:       m,
		Logger:        logger,
		WorkspaceRoot: cfg.WorkspaceRoot,
		BuildWatch:    orchestrator.DefaultBuildWatch(),
	})
	if err := orch.Restore(); err != nil {
		return err
	}

	server := api.NewServer(orch, m, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	workerCtx, cancelWorkers := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancelWorkers()
	if err := orch.Shutdown(workerCtx); err != nil {
		logger.Warn("Worker shutdown incomplete", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
