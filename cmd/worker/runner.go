package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
	"github.com/kirillkom/rbac-assistant/internal/observability/metrics"
)

const indexTimeout = 15 * time.Minute

type indexedPublisher interface {
	PublishIndexed(ctx context.Context, event domain.IndexedEvent) error
}

type indexTrigger struct {
	reason      string
	requestedAt time.Time
}

// indexRunner serializes index runs. Triggers arriving while a run is queued
// collapse into that run.
type indexRunner struct {
	indexer   ports.CorpusIndexer
	publisher indexedPublisher
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
	triggers  chan indexTrigger
	now       func() time.Time
}

func newIndexRunner(indexer ports.CorpusIndexer, publisher indexedPublisher, m *metrics.WorkerMetrics, logger *slog.Logger) *indexRunner {
	return &indexRunner{
		indexer:   indexer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		triggers:  make(chan indexTrigger, 1),
		now:       time.Now,
	}
}

// Trigger queues a run and reports whether a new run was queued.
func (r *indexRunner) Trigger(reason string, requestedAt time.Time) bool {
	select {
	case r.triggers <- indexTrigger{reason: reason, requestedAt: requestedAt}:
		return true
	default:
		r.logger.Info("reindex_coalesced", "reason", reason)
		return false
	}
}

func (r *indexRunner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trig := <-r.triggers:
			r.runOnce(ctx, trig)
		}
	}
}

func (r *indexRunner) runOnce(ctx context.Context, trig indexTrigger) {
	if !trig.requestedAt.IsZero() {
		r.metrics.ObserveRequestLag("worker", r.now().Sub(trig.requestedAt))
	}
	r.metrics.StartIndex()
	start := r.now()

	runCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	report, err := r.indexer.IndexAll(runCtx)
	cancel()

	r.metrics.FinishIndex("worker", trig.reason, report.Chunks, r.now().Sub(start), err)
	if err != nil {
		r.logger.Error("corpus_index_failed", "reason", trig.reason, "error", err)
		return
	}
	if r.publisher == nil {
		return
	}
	event := domain.IndexedEvent{Report: report, FinishedAt: r.now().UTC()}
	if err := r.publisher.PublishIndexed(ctx, event); err != nil {
		r.logger.Warn("indexed_publish_failed", "error", err)
	}
}
