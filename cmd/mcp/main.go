package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/rbac-assistant/internal/adapters/mcp"
	"github.com/kirillkom/rbac-assistant/internal/bootstrap"
	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv, err := mcpadapter.NewServer(app.Router, cfg.MCPRole, logger)
	if err != nil {
		logger.Error("mcp_init_failed", "error", err)
		os.Exit(1)
	}

	logger.Info("mcp_serving_stdio", "role", cfg.MCPRole)
	if err := srv.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
