// Command loom runs the agent pipeline orchestrator: the HTTP/WebSocket API,
// the SQLite store, and the per-chat pipeline scheduler.
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/craftwork-ai/loom/pkg/api"
	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/database"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/llm"
	"github.com/craftwork-ai/loom/pkg/pipeline"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

const (
	wsWriteTimeout  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClient(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Database ready", "path", cfg.DatabasePath)

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	manager := events.NewConnectionManager(wsWriteTimeout)
	bus.SetBroadcaster(manager)

	store := workspace.NewStore(cfg.WorkspaceRoot, publisher)
	runner := workspace.NewRunner()
	locker := workspace.NewLocker()
	previews := workspace.NewPreviewManager(publisher)

	registry, err := llm.NewRegistry(cfg.Providers)
	if err != nil {
		return err
	}

	svc := pipeline.Services{
		Projects:   services.NewProjectService(db.DB()),
		Chats:      services.NewChatService(db.DB()),
		Messages:   services.NewMessageService(db.DB()),
		Executions: services.NewExecutionService(db.DB()),
		Runs:       services.NewRunService(db.DB()),
		Usage:      services.NewUsageService(db.DB()),
		Settings:   services.NewSettingsService(db.DB()),
		Snapshots:  services.NewSnapshotService(db.DB()),
	}

	orch := pipeline.NewOrchestrator(cfg, registry, publisher, store, runner, locker, svc)
	if err := orch.RecoverOrphans(ctx); err != nil {
		return err
	}
	if err := orch.SeedDefaultTemplates(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg, db, orch, svc, store, previews, publisher, manager)
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	previews.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown did not finish cleanly", "error", err)
	}

	// Running pipelines become resumable, exactly as after a crash.
	orch.Shutdown(shutdownCtx)
	return nil
}
