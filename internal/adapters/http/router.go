package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
	"github.com/kirillkom/rbac-assistant/internal/observability/metrics"
)

const (
	serviceName        = "api"
	analyticsRole      = "c_level"
	defaultRecentAudit = 20
)

// ChatRouter is the routing surface the HTTP layer needs from the core.
type ChatRouter interface {
	ports.ChatService
	AvailableTables(role string) ([]domain.TableDescriptor, error)
	Analytics() domain.Analytics
	ResetAnalytics()
}

type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

type ReindexPublisher interface {
	PublishReindex(ctx context.Context, req domain.ReindexRequest) error
}

// Deps wires the router. Audit, Reindex and Metrics are optional.
type Deps struct {
	Config    config.Config
	Chat      ChatRouter
	Access    ports.AccessDirectory
	Users     *UserStore
	RoleNames []string
	Audit     AuditReader
	Reindex   ReindexPublisher
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
}

type Router struct {
	cfg       config.Config
	chat      ChatRouter
	access    ports.AccessDirectory
	users     *UserStore
	roleNames []string
	audit     AuditReader
	reindex   ReindexPublisher
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	validator routers.Router
}

func NewRouter(ctx context.Context, deps Deps) (*Router, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	users := deps.Users
	if users == nil {
		users = NewUserStore(nil)
	}
	validator, err := loadOpenAPIRouter(ctx)
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       deps.Config,
		chat:      deps.Chat,
		access:    deps.Access,
		users:     users,
		roleNames: append([]string(nil), deps.RoleNames...),
		audit:     deps.Audit,
		reindex:   deps.Reindex,
		metrics:   deps.Metrics,
		logger:    logger,
		validator: validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/login", rt.authenticated(rt.login))
	api.HandleFunc("GET /v1/roles", rt.listRoles)
	api.HandleFunc("GET /v1/structured-tables", rt.authenticated(rt.structuredTables))
	api.HandleFunc("GET /v1/analytics", rt.requireRole(analyticsRole, rt.analytics))
	api.HandleFunc("DELETE /v1/analytics", rt.requireRole(analyticsRole, rt.resetAnalytics))
	api.HandleFunc("POST /v1/chat", rt.authenticated(rt.chatHandler))
	api.HandleFunc("POST /v1/admin/reindex", rt.requireRole(analyticsRole, rt.requestReindex))

	var guarded http.Handler = requestValidationMiddleware(api, rt.validator)
	guarded = backpressureMiddleware(
		guarded,
		rt.cfg.APIMaxInFlight,
		time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond,
	)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPIDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(err, status)})
}
