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

	httpadapter "github.com/kirillkom/rbac-assistant/internal/adapters/http"
	"github.com/kirillkom/rbac-assistant/internal/bootstrap"
	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/observability/logging"
	"github.com/kirillkom/rbac-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	deps := httpadapter.Deps{
		Config:    cfg,
		Chat:      app.Router,
		Access:    app.Access,
		Users:     httpadapter.NewUserStore(app.Policy.Users),
		RoleNames: app.Policy.UserRoles(),
		Metrics:   metrics.NewHTTPServerMetrics("api"),
		Logger:    logger,
	}
	if app.Audit != nil {
		deps.Audit = app.Audit
	}

	bus, err := app.ConnectBus()
	if err != nil {
		logger.Warn("message_bus_unavailable", "error", err)
	} else {
		deps.Reindex = bus
		go func() {
			err := bus.SubscribeIndexed(ctx, func(_ context.Context, event domain.IndexedEvent) error {
				logger.Info("corpus_reindexed",
					"documents", event.Report.Documents,
					"chunks", event.Report.Chunks,
					"finished_at", event.FinishedAt,
				)
				return app.RefreshCorpus()
			})
			if err != nil {
				logger.Warn("indexed_subscribe_failed", "error", err)
			}
		}()
	}

	router, err := httpadapter.NewRouter(ctx, deps)
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      http.TimeoutHandler(router.Handler(), cfg.APIRequestTimeout, `{"error":"request timed out"}`),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.APIRequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "structured", app.Sandbox != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
