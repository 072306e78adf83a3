package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	indexTotal    *prometheus.CounterVec
	indexDuration *prometheus.HistogramVec
	indexInFlight prometheus.Gauge
	indexedChunks prometheus.Gauge
	requestLag    *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	indexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "worker",
			Name:      "corpus_index_total",
			Help:      "Total corpus index runs by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbac",
			Subsystem: "worker",
			Name:      "corpus_index_duration_seconds",
			Help:      "Corpus index duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	indexInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rbac",
			Subsystem: "worker",
			Name:      "corpus_index_in_flight",
			Help:      "Number of in-flight corpus index runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	indexedChunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rbac",
			Subsystem: "worker",
			Name:      "indexed_chunks",
			Help:      "Chunks written by the last successful index run.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	requestLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbac",
			Subsystem: "worker",
			Name:      "reindex_request_lag_seconds",
			Help:      "Delay between a reindex request and the start of indexing.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(indexTotal, indexDuration, indexInFlight, indexedChunks, requestLag)

	return &WorkerMetrics{
		registry:      registry,
		indexTotal:    indexTotal,
		indexDuration: indexDuration,
		indexInFlight: indexInFlight,
		indexedChunks: indexedChunks,
		requestLag:    requestLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartIndex() {
	m.indexInFlight.Inc()
}

func (m *WorkerMetrics) FinishIndex(service, trigger string, chunks int, duration time.Duration, err error) {
	m.indexInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.indexedChunks.Set(float64(chunks))
	}

	m.indexTotal.WithLabelValues(service, trigger, status).Inc()
	m.indexDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveRequestLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.requestLag.WithLabelValues(service).Observe(lag.Seconds())
}
