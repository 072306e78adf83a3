package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const maxChatBodyBytes = 64 << 10

type chatRequest struct {
	Message string `json:"message"`
	TopK    int    `json:"top_k"`
}

type chatResponse struct {
	Answer     string             `json:"answer"`
	Role       string             `json:"role"`
	References []domain.Reference `json:"references"`
}

type analyticsResponse struct {
	domain.Analytics
	RecentRequests []domain.AuditRecord `json:"recent_requests,omitempty"`
}

func (rt *Router) login(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome " + principal.Username + "!",
		"role":    principal.Role,
	})
}

func (rt *Router) listRoles(w http.ResponseWriter, _ *http.Request) {
	all := rt.access.Roles()
	names := rt.roleNames
	if len(names) == 0 {
		names = make([]string, 0, len(all))
		for role := range all {
			names = append(names, role)
		}
		sort.Strings(names)
	}

	out := make(map[string]domain.DepartmentSet, len(names))
	for _, role := range names {
		out[role] = rt.access.DepartmentsFor(role)
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (rt *Router) structuredTables(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	tables, err := rt.chat.AvailableTables(principal.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": names})
}

func (rt *Router) analytics(w http.ResponseWriter, r *http.Request) {
	resp := analyticsResponse{Analytics: rt.chat.Analytics()}
	if rt.audit != nil {
		limit := defaultRecentAudit
		if raw := r.URL.Query().Get("recent"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				limit = n
			}
		}
		if limit > 0 {
			records, err := rt.audit.Recent(r.Context(), limit)
			if err != nil {
				rt.logger.Warn("audit_read_failed", "error", err)
			} else {
				resp.RecentRequests = records
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) resetAnalytics(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	rt.chat.ResetAnalytics()
	rt.logger.Info("analytics_reset", "user", principal.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) chatHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())

	var req chatRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	start := time.Now()
	result, err := rt.chat.Route(r.Context(), domain.ChatRequest{
		Role:    principal.Role,
		Message: req.Message,
		TopK:    req.TopK,
	})
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordChatRejected(serviceName, rejectionReason(err))
		}
		if mapErrorToHTTPStatus(err) >= http.StatusInternalServerError {
			rt.logger.Error("chat_failed", "role", principal.Role, "error", err)
		}
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordChat(
			serviceName,
			result.Role,
			string(result.Mode),
			result.CacheHit,
			result.NoContext,
			len(result.References),
			time.Since(start),
		)
		if result.FallbackKind != "" {
			rt.metrics.RecordStructuredFallback(serviceName, result.FallbackKind)
		}
		rt.metrics.SetRerankerEnabled(rt.chat.Analytics().RerankerEnabled)
	}

	refs := result.References
	if refs == nil {
		refs = []domain.Reference{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     result.Answer,
		Role:       result.Role,
		References: refs,
	})
}

func (rt *Router) requestReindex(w http.ResponseWriter, r *http.Request) {
	if rt.reindex == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reindex is not available"})
		return
	}
	principal, _ := principalFromContext(r.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "requested by " + principal.Username
	}

	req := domain.ReindexRequest{Reason: reason, RequestedAt: time.Now().UTC()}
	if err := rt.reindex.PublishReindex(r.Context(), req); err != nil {
		rt.logger.Error("reindex_publish_failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "could not publish reindex request"})
		return
	}
	rt.logger.Info("reindex_requested", "user", principal.Username, "reason", reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
