package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatRequestsTotal      *prometheus.CounterVec
	chatCacheTotal         *prometheus.CounterVec
	chatNoContextTotal     *prometheus.CounterVec
	chatReferences         *prometheus.HistogramVec
	chatDuration           *prometheus.HistogramVec
	chatRejectedTotal      *prometheus.CounterVec
	structuredFailureTotal *prometheus.CounterVec
	rerankerEnabled        prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbac",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rbac",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total routed chat requests by role and answer mode.",
		},
		[]string{"service", "role", "mode"},
	)
	chatCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "cache_lookups_total",
			Help:      "Retrieval cache lookups on the semantic path by result.",
		},
		[]string{"service", "result"},
	)
	chatNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "no_context_total",
			Help:      "Total chat requests answered without any accessible context.",
		},
		[]string{"service", "role"},
	)
	chatReferences := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "references",
			Help:      "Distribution of references returned per answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		},
		[]string{"service", "mode"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "duration_seconds",
			Help:      "Routing duration in seconds by answer mode.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	chatRejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "router",
			Name:      "rejected_total",
			Help:      "Chat requests rejected before routing by reason.",
		},
		[]string{"service", "reason"},
	)
	structuredFailureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbac",
			Subsystem: "structured",
			Name:      "fallback_total",
			Help:      "Structured query attempts that fell back to semantic retrieval.",
		},
		[]string{"service", "kind"},
	)
	rerankerEnabled := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rbac",
			Subsystem: "reranker",
			Name:      "enabled",
			Help:      "1 when the context reranker is active, 0 once it has been disabled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatRequestsTotal,
		chatCacheTotal,
		chatNoContextTotal,
		chatReferences,
		chatDuration,
		chatRejectedTotal,
		structuredFailureTotal,
		rerankerEnabled,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		chatRequestsTotal:      chatRequestsTotal,
		chatCacheTotal:         chatCacheTotal,
		chatNoContextTotal:     chatNoContextTotal,
		chatReferences:         chatReferences,
		chatDuration:           chatDuration,
		chatRejectedTotal:      chatRejectedTotal,
		structuredFailureTotal: structuredFailureTotal,
		rerankerEnabled:        rerankerEnabled,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/"), path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

// RecordChat records one routed answer. mode is the route mode of the result.
func (m *HTTPServerMetrics) RecordChat(service, role, mode string, cacheHit, noContext bool, references int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, role, mode).Inc()
	m.chatReferences.WithLabelValues(service, mode).Observe(float64(references))
	m.chatDuration.WithLabelValues(service, mode).Observe(duration.Seconds())

	if mode != "sql" {
		result := "miss"
		if cacheHit {
			result = "hit"
		}
		m.chatCacheTotal.WithLabelValues(service, result).Inc()
	}
	if noContext {
		m.chatNoContextTotal.WithLabelValues(service, role).Inc()
	}
}

func (m *HTTPServerMetrics) RecordChatRejected(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.chatRejectedTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordStructuredFallback(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.structuredFailureTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) SetRerankerEnabled(enabled bool) {
	if enabled {
		m.rerankerEnabled.Set(1)
		return
	}
	m.rerankerEnabled.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
