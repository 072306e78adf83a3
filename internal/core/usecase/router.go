package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

const (
	DefaultTopK = 4
	MaxTopK     = 8
)

// RouterDeps wires HybridRouter collaborators. Sandbox, Cache, Reranker,
// Usage and Audit are optional.
type RouterDeps struct {
	Access     ports.AccessDirectory
	Classifier QueryClassifier
	Sandbox    ports.StructuredExecutor
	Cache      *RetrievalCache
	Retriever  ports.SemanticRetriever
	Reranker   *ContextReranker
	Generator  ports.AnswerGenerator
	Usage      *UsageTracker
	Audit      ports.AuditLog
	Logger     *slog.Logger
	Now        func() time.Time
}

// HybridRouter picks the structured or semantic path per question and never
// lets evidence from outside the caller's departments reach the answer.
type HybridRouter struct {
	access     ports.AccessDirectory
	classifier QueryClassifier
	sandbox    ports.StructuredExecutor
	cache      *RetrievalCache
	retriever  ports.SemanticRetriever
	reranker   *ContextReranker
	generator  ports.AnswerGenerator
	usage      *UsageTracker
	audit      ports.AuditLog
	logger     *slog.Logger
	now        func() time.Time
}

func NewHybridRouter(deps RouterDeps) *HybridRouter {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	usage := deps.Usage
	if usage == nil {
		usage = NewUsageTracker()
	}
	return &HybridRouter{
		access:     deps.Access,
		classifier: deps.Classifier,
		sandbox:    deps.Sandbox,
		cache:      deps.Cache,
		retriever:  deps.Retriever,
		reranker:   deps.Reranker,
		generator:  deps.Generator,
		usage:      usage,
		audit:      deps.Audit,
		logger:     logger,
		now:        now,
	}
}

func (r *HybridRouter) Route(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error) {
	role := domain.NormalizeRole(req.Role)
	question := strings.TrimSpace(req.Message)
	if role == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route chat", errors.New("role is required"))
	}
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route chat", errors.New("message is required"))
	}
	topK, err := resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}

	departments := r.access.DepartmentsFor(role)
	if departments.Empty() {
		return nil, domain.WrapError(
			domain.ErrAuthorizationEmpty,
			"route chat",
			fmt.Errorf("role %q resolves to no departments", role),
		)
	}

	semanticQuery := question
	mode := domain.ModeRAG
	var fallbackReason, fallbackKind string
	var failure *domain.StructuredQueryError

	if r.sandbox != nil && r.classify(question, departments) == domain.QueryStructured {
		outcome := r.sandbox.Execute(ctx, question, departments)
		if outcome.OK() {
			return r.finish(ctx, &domain.ChatResult{
				Answer:     structuredAnswer(outcome.Result),
				Role:       role,
				References: tableReferences(outcome.Result.Tables),
				Mode:       domain.ModeSQL,
				Structured: outcome.Result,
			}), nil
		}
		failure = outcome.Failure
		if failure == nil {
			failure = domain.StructuredEngineFailure(errors.New("sandbox returned no result"))
		}
		r.logger.Info("structured_query_fallback",
			"role", role,
			"rejected", failure.Rejected(),
			"reason", failure.Error(),
		)
		semanticQuery = fallbackQuestion(question, failure)
		fallbackReason = failure.Error()
		fallbackKind = fallbackKindOf(failure)
		mode = domain.ModeSQLFallback
	}

	contexts, cacheHit := r.retrieve(ctx, role, semanticQuery, departments, topK)
	contexts = scopeContexts(contexts, departments)
	if r.reranker != nil {
		contexts = r.reranker.Reorder(ctx, question, contexts)
	}

	result := &domain.ChatResult{
		Role:           role,
		Mode:           mode,
		CacheHit:       cacheHit,
		FallbackReason: fallbackReason,
		FallbackKind:   fallbackKind,
		References:     []domain.Reference{},
	}
	if len(contexts) == 0 {
		result.Answer = domain.NoInformationAnswer
		result.NoContext = true
	} else {
		answer, err := r.generator.Generate(ctx, question, role, contexts)
		if err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "generate answer", err)
		}
		result.Answer = answer
		result.References = contextReferences(contexts)
		result.Contexts = contexts
	}
	if failure != nil {
		result.Answer = withFallbackNote(result.Answer, failure)
	}
	return r.finish(ctx, result), nil
}

// AvailableTables lists the structured tables visible to role, sorted by name.
func (r *HybridRouter) AvailableTables(role string) ([]domain.TableDescriptor, error) {
	departments := r.access.DepartmentsFor(role)
	if departments.Empty() {
		return nil, domain.WrapError(
			domain.ErrAuthorizationEmpty,
			"list tables",
			fmt.Errorf("role %q resolves to no departments", domain.NormalizeRole(role)),
		)
	}
	if r.sandbox == nil {
		return []domain.TableDescriptor{}, nil
	}
	tables := r.sandbox.AvailableTables(departments)
	out := make([]domain.TableDescriptor, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *HybridRouter) Analytics() domain.Analytics {
	out := domain.Analytics{
		Queries:         r.usage.Snapshot(),
		RerankerEnabled: r.reranker.Enabled(),
	}
	if r.cache != nil {
		out.CacheEntries = r.cache.Size()
	}
	return out
}

// ResetAnalytics zeroes the usage counters.
func (r *HybridRouter) ResetAnalytics() {
	r.usage.Reset()
}

// ResetCache drops memoized retrievals, e.g. after the corpus is re-indexed.
func (r *HybridRouter) ResetCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

func (r *HybridRouter) classify(question string, departments domain.DepartmentSet) domain.QueryKind {
	tables := r.sandbox.AvailableTables(departments)
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	return r.classifier.Classify(question, names)
}

func (r *HybridRouter) retrieve(
	ctx context.Context,
	role, query string,
	departments domain.DepartmentSet,
	topK int,
) ([]domain.RetrievedContext, bool) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(role, query); ok {
			return cached, true
		}
	}

	contexts, err := r.retriever.Search(ctx, query, departments, topK)
	if err != nil {
		r.logger.Error("semantic_retrieval_failed", "role", role, "error", err)
		return nil, false
	}
	if r.cache != nil && len(contexts) > 0 {
		r.cache.Set(role, query, contexts)
	}
	return contexts, false
}

func (r *HybridRouter) finish(ctx context.Context, result *domain.ChatResult) *domain.ChatResult {
	r.usage.Record(result.Role, result.Mode)
	r.logger.Info("chat_request",
		"role", result.Role,
		"mode", result.Mode,
		"cache_hit", result.CacheHit,
		"no_context", result.NoContext,
		"references", len(result.References),
		"reranker", r.reranker.Enabled(),
	)
	if r.audit != nil {
		record := domain.AuditRecord{
			ID:             uuid.NewString(),
			Role:           result.Role,
			Mode:           result.Mode,
			CacheHit:       result.CacheHit,
			ReferenceCount: len(result.References),
			FallbackReason: result.FallbackReason,
			CreatedAt:      r.now().UTC(),
		}
		if err := r.audit.Record(ctx, record); err != nil {
			r.logger.Warn("audit_record_failed", "role", result.Role, "error", err)
		}
	}
	return result
}

func fallbackKindOf(failure *domain.StructuredQueryError) string {
	if failure.Rejected() {
		return "rejected"
	}
	return "engine"
}

func resolveTopK(topK int) (int, error) {
	if topK == 0 {
		return DefaultTopK, nil
	}
	if topK < 1 || topK > MaxTopK {
		return 0, domain.WrapError(
			domain.ErrInvalidInput,
			"route chat",
			fmt.Errorf("top_k must be between 1 and %d", MaxTopK),
		)
	}
	return topK, nil
}
