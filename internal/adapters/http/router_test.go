package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/usecase"
	"github.com/kirillkom/rbac-assistant/internal/observability/metrics"
)

type chatRouterFake struct {
	mu       sync.Mutex
	requests []domain.ChatRequest
	result   *domain.ChatResult
	err      error
	tables   []domain.TableDescriptor
	resets   int
}

func (f *chatRouterFake) Route(_ context.Context, req domain.ChatRequest) (*domain.ChatResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		out := *f.result
		out.Role = req.Role
		return &out, nil
	}
	return &domain.ChatResult{Answer: "ok", Role: req.Role, Mode: domain.ModeRAG}, nil
}

func (f *chatRouterFake) AvailableTables(role string) ([]domain.TableDescriptor, error) {
	if role == "visitor" {
		return nil, domain.WrapError(domain.ErrAuthorizationEmpty, "list tables", errors.New("no departments"))
	}
	return f.tables, nil
}

func (f *chatRouterFake) Analytics() domain.Analytics {
	return domain.Analytics{
		Queries:         domain.UsageSnapshot{GrandTotal: 3, PerRole: map[string]map[string]int{"hr": {"total": 3, "mode:rag": 3}}},
		CacheEntries:    2,
		RerankerEnabled: true,
	}
}

func (f *chatRouterFake) ResetAnalytics() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

type auditReaderFake struct {
	limit int
}

func (f *auditReaderFake) Recent(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	f.limit = limit
	return []domain.AuditRecord{{ID: "a-1", Role: "hr", Mode: domain.ModeRAG}}, nil
}

type reindexFake struct {
	requests []domain.ReindexRequest
	err      error
}

func (f *reindexFake) PublishReindex(_ context.Context, req domain.ReindexRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type routerFixture struct {
	chat    *chatRouterFake
	audit   *auditReaderFake
	reindex *reindexFake
	metrics *metrics.HTTPServerMetrics
	handler http.Handler
}

func newRouterFixture(t *testing.T, cfg config.Config) *routerFixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hrpass123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	access := usecase.NewAccessResolver(usecase.DefaultRoleDepartments())
	access.RegisterRole("visitor", nil)

	f := &routerFixture{
		chat:    &chatRouterFake{},
		audit:   &auditReaderFake{},
		reindex: &reindexFake{},
		metrics: metrics.NewHTTPServerMetrics("api"),
	}
	router, err := NewRouter(context.Background(), Deps{
		Config: cfg,
		Chat:   f.chat,
		Access: access,
		Users: NewUserStore(map[string]config.User{
			"Natasha": {Role: "hr", PasswordHash: string(hash)},
			"Priya":   {Role: "c_level", Password: "cboard123"},
			"Ghost":   {Role: "visitor", Password: "boo"},
		}),
		RoleNames: []string{"c_level", "hr"},
		Audit:     f.audit,
		Reindex:   f.reindex,
		Metrics:   f.metrics,
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	f.handler = router.Handler()
	return f
}

func (f *routerFixture) do(method, path, user, password string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthzEndpoint(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	res := f.do(http.MethodGet, "/healthz", "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestLoginWithBcryptUser(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	res := f.do(http.MethodGet, "/v1/login", "Natasha", "hrpass123", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["role"] != "hr" || body["message"] != "Welcome Natasha!" {
		t.Fatalf("unexpected login response: %+v", body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	for _, tc := range []struct{ user, password string }{
		{"Natasha", "wrong"},
		{"Nobody", "hrpass123"},
		{"", ""},
	} {
		res := f.do(http.MethodGet, "/v1/login", tc.user, tc.password, nil)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %q, got %d", tc.user, res.Code)
		}
		if res.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("expected WWW-Authenticate header")
		}
	}
}

func TestListRolesUsesConfiguredNames(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	res := f.do(http.MethodGet, "/v1/roles", "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Roles map[string][]string `json:"roles"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Roles) != 2 || len(body.Roles["c_level"]) != 5 || len(body.Roles["hr"]) != 2 {
		t.Fatalf("unexpected roles: %+v", body.Roles)
	}
}

func TestChatPassesRoleFromCredentials(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	score := 0.9
	f.chat.result = &domain.ChatResult{
		Answer:       "Leave is 20 days.",
		Mode:         domain.ModeSQLFallback,
		CacheHit:     true,
		References:   []domain.Reference{{Source: "data/hr/handbook.md", Department: "hr", Score: &score}},
		Contexts:     []domain.RetrievedContext{{Document: "secret text", Department: "hr"}},
		FallbackKind: "rejected",
	}

	res := f.do(http.MethodPost, "/v1/chat", "Natasha", "hrpass123", map[string]any{"message": "How much leave?", "top_k": 3})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.chat.requests) != 1 {
		t.Fatalf("expected one routed request, got %d", len(f.chat.requests))
	}
	got := f.chat.requests[0]
	if got.Role != "hr" || got.Message != "How much leave?" || got.TopK != 3 {
		t.Fatalf("unexpected routed request: %+v", got)
	}

	body := decodeBody(t, res)
	if len(body) != 3 {
		t.Fatalf("expected exactly answer, role and references, got %+v", body)
	}
	refs, ok := body["references"].([]any)
	if !ok || len(refs) != 1 {
		t.Fatalf("expected one reference, got %+v", body["references"])
	}
}

func TestChatRejectsInvalidBodies(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	cases := map[string]any{
		"empty message": map[string]any{"message": ""},
		"missing":       map[string]any{"top_k": 2},
		"top_k high":    map[string]any{"message": "hi", "top_k": 9},
		"top_k low":     map[string]any{"message": "hi", "top_k": 0},
		"blank message": map[string]any{"message": "   "},
	}
	for name, body := range cases {
		res := f.do(http.MethodPost, "/v1/chat", "Natasha", "hrpass123", body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, res.Code)
		}
	}
	if len(f.chat.requests) != 0 {
		t.Fatalf("expected no routed requests, got %d", len(f.chat.requests))
	}
}

func TestChatMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.WrapError(domain.ErrAuthorizationEmpty, "route", errors.New("none")), http.StatusForbidden},
		{domain.WrapError(domain.ErrInvalidInput, "route", errors.New("bad")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrTemporary, "generate", errors.New("ollama down")), http.StatusServiceUnavailable},
		{errors.New("no such table: hr_hr_data"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newRouterFixture(t, config.Config{})
		f.chat.err = tc.err
		res := f.do(http.MethodPost, "/v1/chat", "Natasha", "hrpass123", map[string]any{"message": "hi"})
		if res.Code != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, res.Code)
		}
		if strings.Contains(res.Body.String(), "no such table") || strings.Contains(res.Body.String(), "ollama") {
			t.Fatalf("expected internal diagnostics to stay private, got %s", res.Body.String())
		}
	}
}

func TestStructuredTablesListsNames(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	f.chat.tables = []domain.TableDescriptor{{Name: "hr_hr_data"}, {Name: "general_holidays"}}

	res := f.do(http.MethodGet, "/v1/structured-tables", "Natasha", "hrpass123", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Tables []string `json:"tables"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tables) != 2 || body.Tables[0] != "hr_hr_data" {
		t.Fatalf("unexpected tables: %v", body.Tables)
	}

	res = f.do(http.MethodGet, "/v1/structured-tables", "Ghost", "boo", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for role without departments, got %d", res.Code)
	}
}

func TestAnalyticsRestrictedToCLevel(t *testing.T) {
	f := newRouterFixture(t, config.Config{})

	res := f.do(http.MethodGet, "/v1/analytics", "Natasha", "hrpass123", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for hr, got %d", res.Code)
	}

	res = f.do(http.MethodGet, "/v1/analytics?recent=5", "Priya", "cboard123", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for c_level, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["cache_entries"] != float64(2) || body["reranker_enabled"] != true {
		t.Fatalf("unexpected analytics: %+v", body)
	}
	if f.audit.limit != 5 {
		t.Fatalf("expected recent limit 5, got %d", f.audit.limit)
	}
	if recent, ok := body["recent_requests"].([]any); !ok || len(recent) != 1 {
		t.Fatalf("expected recent requests, got %+v", body["recent_requests"])
	}
}

func TestResetAnalyticsRestrictedToCLevel(t *testing.T) {
	f := newRouterFixture(t, config.Config{})

	res := f.do(http.MethodDelete, "/v1/analytics", "Natasha", "hrpass123", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for hr, got %d", res.Code)
	}
	res = f.do(http.MethodDelete, "/v1/analytics", "Priya", "cboard123", nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for c_level, got %d: %s", res.Code, res.Body.String())
	}
	if f.chat.resets != 1 {
		t.Fatalf("expected one reset, got %d", f.chat.resets)
	}
}

func TestReindexPublishesForCLevel(t *testing.T) {
	f := newRouterFixture(t, config.Config{})

	res := f.do(http.MethodPost, "/v1/admin/reindex", "Natasha", "hrpass123", map[string]any{})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for hr, got %d", res.Code)
	}

	res = f.do(http.MethodPost, "/v1/admin/reindex", "Priya", "cboard123", map[string]any{"reason": "new handbook"})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.reindex.requests) != 1 || f.reindex.requests[0].Reason != "new handbook" {
		t.Fatalf("unexpected published requests: %+v", f.reindex.requests)
	}

	f.reindex.err = errors.New("nats down")
	res = f.do(http.MethodPost, "/v1/admin/reindex", "Priya", "cboard123", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when publish fails, got %d", res.Code)
	}
}

func TestMetricsEndpointReportsChat(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	f.chat.result = &domain.ChatResult{Answer: "x", Mode: domain.ModeSQL}
	f.do(http.MethodPost, "/v1/chat", "Natasha", "hrpass123", map[string]any{"message": "select * from hr_hr_data"})

	res := f.do(http.MethodGet, "/metrics", "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `rbac_router_requests_total{mode="sql",role="hr",service="api"} 1`) {
		t.Fatalf("expected routed chat metric, got:\n%s", res.Body.String())
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	f := newRouterFixture(t, config.Config{APIRateLimitRPS: 1, APIRateLimitBurst: 1})

	res1 := f.do(http.MethodGet, "/v1/roles", "", "", nil)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}
	res2 := f.do(http.MethodGet, "/v1/roles", "", "", nil)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}

	health := f.do(http.MethodGet, "/healthz", "", "", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("expected health checks to bypass rate limiting, got %d", health.Code)
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/roles", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/v1/roles", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}

func TestOpenAPISpecIsServed(t *testing.T) {
	f := newRouterFixture(t, config.Config{})
	res := f.do(http.MethodGet, "/openapi.yaml", "", "", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "/v1/chat") {
		t.Fatalf("expected embedded openapi document, got %d", res.Code)
	}
}
