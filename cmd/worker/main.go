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

	"github.com/kirillkom/rbac-assistant/internal/bootstrap"
	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/corpus"
	"github.com/kirillkom/rbac-assistant/internal/observability/logging"
	"github.com/kirillkom/rbac-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	bus, err := app.ConnectBus()
	if err != nil {
		logger.Warn("message_bus_unavailable", "error", err)
	}

	var publisher indexedPublisher
	if bus != nil {
		publisher = bus
	}
	runner := newIndexRunner(app.Indexer, publisher, workerMetrics, logger)
	go runner.Run(ctx)
	runner.Trigger("startup", time.Time{})

	if bus != nil {
		go func() {
			err := bus.SubscribeReindex(ctx, func(_ context.Context, req domain.ReindexRequest) error {
				logger.Info("reindex_received", "reason", req.Reason)
				runner.Trigger("request", req.RequestedAt)
				return nil
			})
			if err != nil {
				logger.Error("reindex_subscribe_failed", "error", err)
			}
		}()
	}

	if cfg.CorpusWatchEnabled {
		watcher, err := corpus.NewWatcher(app.Corpus.Root(), cfg.CorpusWatchDebounce, func(ctx context.Context, paths []string) {
			req := domain.ReindexRequest{Reason: "corpus changed", RequestedAt: time.Now().UTC()}
			if bus == nil {
				runner.Trigger("watch", req.RequestedAt)
				return
			}
			if err := bus.PublishReindex(ctx, req); err != nil {
				logger.Warn("reindex_publish_failed", "paths", len(paths), "error", err)
				runner.Trigger("watch", req.RequestedAt)
			}
		}, logger)
		if err != nil {
			logger.Error("corpus_watch_init_failed", "error", err)
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Error("corpus_watch_failed", "error", err)
				}
			}()
		}
	}

	logger.Info("worker_started", "corpus_root", app.Corpus.Root(), "metrics_port", cfg.WorkerMetricsPort)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker_metrics_shutdown_failed", "error", err)
	}
}
