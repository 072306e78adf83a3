package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

type sandboxFake struct {
	tables  map[string]domain.TableDescriptor
	outcome domain.StructuredOutcome
	execs   []string
	listed  int
}

func (f *sandboxFake) AvailableTables(departments domain.DepartmentSet) map[string]domain.TableDescriptor {
	f.listed++
	out := make(map[string]domain.TableDescriptor)
	for name, t := range f.tables {
		if departments.Contains(t.Department) {
			out[name] = t
		}
	}
	return out
}

func (f *sandboxFake) Execute(_ context.Context, query string, _ domain.DepartmentSet) domain.StructuredOutcome {
	f.execs = append(f.execs, query)
	return f.outcome
}

type retrieverFake struct {
	mu       sync.Mutex
	contexts []domain.RetrievedContext
	err      error
	queries  []string
	scopes   []domain.DepartmentSet
}

func (f *retrieverFake) Search(_ context.Context, question string, departments domain.DepartmentSet, _ int) ([]domain.RetrievedContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, question)
	f.scopes = append(f.scopes, departments)
	if f.err != nil {
		return nil, f.err
	}
	return domain.CloneContexts(f.contexts), nil
}

type generatorFake struct {
	answer    string
	err       error
	questions []string
	contexts  [][]domain.RetrievedContext
}

func (f *generatorFake) Generate(_ context.Context, question, _ string, contexts []domain.RetrievedContext) (string, error) {
	f.questions = append(f.questions, question)
	f.contexts = append(f.contexts, contexts)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type recordingScorer struct {
	inner *scorerFake
	seen  *[]string
}

func (s recordingScorer) Score(ctx context.Context, question string, passages []string) ([]float64, error) {
	*s.seen = append(*s.seen, question)
	return s.inner.Score(ctx, question, passages)
}

type auditFake struct {
	records []domain.AuditRecord
	err     error
}

func (f *auditFake) Record(_ context.Context, record domain.AuditRecord) error {
	f.records = append(f.records, record)
	return f.err
}

var hrTable = domain.TableDescriptor{
	Name:       "hr_hr_data",
	Department: "hr",
	Source:     "data/hr/hr_data.csv",
	Columns:    []string{"full_name", "role"},
}

var financeTable = domain.TableDescriptor{
	Name:       "finance_ledger",
	Department: "finance",
	Source:     "data/finance/ledger.csv",
	Columns:    []string{"amount"},
}

type routerFixture struct {
	router    *HybridRouter
	sandbox   *sandboxFake
	retriever *retrieverFake
	generator *generatorFake
	audit     *auditFake
	cache     *RetrievalCache
	access    *AccessResolver
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		sandbox: &sandboxFake{tables: map[string]domain.TableDescriptor{
			hrTable.Name:      hrTable,
			financeTable.Name: financeTable,
		}},
		retriever: &retrieverFake{contexts: []domain.RetrievedContext{
			{Document: "Revenue grew 12%.", Department: "finance", Source: "data/finance/report.md", Score: domain.Score(0.7)},
			{Document: "Office hours are 9-5.", Department: "general", Source: "data/general/faq.md", Score: domain.Score(0.6)},
		}},
		generator: &generatorFake{answer: "generated answer"},
		audit:     &auditFake{},
		cache:     NewRetrievalCache(8),
		access:    NewAccessResolver(DefaultRoleDepartments()),
	}
	f.router = NewHybridRouter(RouterDeps{
		Access:     f.access,
		Classifier: NewQueryClassifier(),
		Sandbox:    f.sandbox,
		Cache:      f.cache,
		Retriever:  f.retriever,
		Generator:  f.generator,
		Audit:      f.audit,
	})
	return f
}

func TestRouteStructuredSuccess(t *testing.T) {
	f := newRouterFixture()
	f.sandbox.outcome = domain.StructuredSuccess(domain.StructuredResult{
		Rows:    []map[string]string{{"full_name": "Ana"}, {"full_name": "Bo"}},
		Columns: []string{"full_name"},
		Tables:  []domain.TableDescriptor{hrTable},
	})

	res, err := f.router.Route(context.Background(), domain.ChatRequest{
		Role:    "hr",
		Message: "SELECT full_name FROM hr_hr_data LIMIT 2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mode != domain.ModeSQL {
		t.Fatalf("expected sql mode, got %s", res.Mode)
	}
	if len(res.Structured.Rows) > 2 {
		t.Fatalf("expected at most 2 rows, got %d", len(res.Structured.Rows))
	}
	if len(res.References) != 1 || res.References[0].Source != hrTable.Source || res.References[0].Department != "hr" {
		t.Fatalf("expected references limited to hr_hr_data, got %+v", res.References)
	}
	if !strings.HasPrefix(res.Answer, "Structured query result:\n\n| full_name |") {
		t.Fatalf("unexpected structured answer: %q", res.Answer)
	}
	if len(f.retriever.queries) != 0 || len(f.generator.questions) != 0 {
		t.Fatalf("expected structured success to skip semantic path")
	}
	if len(f.audit.records) != 1 || f.audit.records[0].Mode != domain.ModeSQL {
		t.Fatalf("expected one sql audit record, got %+v", f.audit.records)
	}
}

func TestRouteStructuredRejectedFallsBack(t *testing.T) {
	f := newRouterFixture()
	rejection := domain.RejectUnauthorizedTables([]string{"hr_hr_data"})
	f.sandbox.outcome = domain.StructuredFailed(rejection)
	question := "SELECT full_name FROM hr_hr_data LIMIT 2"

	res, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: question})
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if res.Mode != domain.ModeSQLFallback {
		t.Fatalf("expected sql_fallback mode, got %s", res.Mode)
	}
	if len(f.retriever.queries) != 1 {
		t.Fatalf("expected one semantic retrieval, got %d", len(f.retriever.queries))
	}
	want := question + "\n\n(Structured query fallback triggered: query references unauthorized tables: hr_hr_data)"
	if f.retriever.queries[0] != want {
		t.Fatalf("expected fallback-annotated query, got %q", f.retriever.queries[0])
	}
	if f.generator.questions[0] != question {
		t.Fatalf("expected generator to receive original question, got %q", f.generator.questions[0])
	}
	if res.FallbackReason == "" {
		t.Fatalf("expected fallback reason to be reported")
	}
	if res.FallbackKind != "rejected" {
		t.Fatalf("expected rejected fallback kind, got %q", res.FallbackKind)
	}
	wantAnswer := "generated answer\n\n_" + domain.StructuredFallbackNote + ": query references unauthorized tables: hr_hr_data._"
	if res.Answer != wantAnswer {
		t.Fatalf("expected answer to explain the fallback, got %q", res.Answer)
	}
	for _, ref := range res.References {
		if ref.Department != "finance" && ref.Department != "general" {
			t.Fatalf("unexpected department in references: %+v", ref)
		}
	}
}

func TestRouteFallbackWithoutContextsStillExplains(t *testing.T) {
	f := newRouterFixture()
	f.retriever.contexts = nil
	f.sandbox.outcome = domain.StructuredFailed(domain.RejectStructuredQuery("only SELECT queries are supported"))

	res, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: "delete from finance_ledger where amount > 0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoContext || !strings.HasPrefix(res.Answer, domain.NoInformationAnswer) {
		t.Fatalf("expected no-information answer, got %+v", res)
	}
	if !strings.Contains(res.Answer, "only SELECT queries are supported") {
		t.Fatalf("expected fallback reason in answer, got %q", res.Answer)
	}
}

func TestRouteEmptyDepartmentsRejectedBeforeRetrieval(t *testing.T) {
	f := newRouterFixture()
	f.access.RegisterRole("visitor", nil)

	for _, role := range []string{"visitor", "nobody"} {
		_, err := f.router.Route(context.Background(), domain.ChatRequest{
			Role:    role,
			Message: "SELECT full_name FROM hr_hr_data",
		})
		if !domain.IsKind(err, domain.ErrAuthorizationEmpty) {
			t.Fatalf("expected authorization error for %s, got %v", role, err)
		}
	}
	if f.sandbox.listed != 0 || len(f.sandbox.execs) != 0 {
		t.Fatalf("expected sandbox never invoked")
	}
	if len(f.retriever.queries) != 0 {
		t.Fatalf("expected retriever never invoked")
	}
	if len(f.generator.questions) != 0 {
		t.Fatalf("expected generator never invoked")
	}
	if len(f.audit.records) != 0 {
		t.Fatalf("expected no audit records")
	}
}

func TestRouteSemanticCachesNonEmptyResults(t *testing.T) {
	f := newRouterFixture()
	req := domain.ChatRequest{Role: "finance", Message: "How did revenue change?"}

	first, err := f.router.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.CacheHit || first.Mode != domain.ModeRAG {
		t.Fatalf("expected uncached rag answer, got %+v", first)
	}
	if len(f.sandbox.execs) != 0 {
		t.Fatalf("expected prose question to skip sandbox")
	}

	second, err := f.router.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("expected cache hit on repeated question")
	}
	if len(f.retriever.queries) != 1 {
		t.Fatalf("expected retriever called once, got %d", len(f.retriever.queries))
	}
	if len(second.References) != 2 || second.References[0].Source != "data/finance/report.md" {
		t.Fatalf("unexpected references: %+v", second.References)
	}
}

func TestRouteNoContextIsExplicitAndNotCached(t *testing.T) {
	f := newRouterFixture()
	f.retriever.contexts = nil
	req := domain.ChatRequest{Role: "employee", Message: "Where is the cafeteria?"}

	res, err := f.router.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != domain.NoInformationAnswer || !res.NoContext {
		t.Fatalf("expected explicit no-information answer, got %+v", res)
	}
	if f.cache.Size() != 0 {
		t.Fatalf("expected empty results not cached")
	}
	if len(f.generator.questions) != 0 {
		t.Fatalf("expected generator skipped without contexts")
	}
}

func TestRouteDropsContextsOutsideScope(t *testing.T) {
	f := newRouterFixture()
	f.retriever.contexts = append(f.retriever.contexts,
		domain.RetrievedContext{Document: "Salaries.", Department: "hr", Source: "data/hr/salaries.md"},
		domain.RetrievedContext{Document: "Revenue grew 12%.", Department: "finance", Source: "data/finance/report.md", Score: domain.Score(0.7)},
	)

	res, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: "revenue and salaries"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range f.generator.contexts[0] {
		if c.Department == "hr" {
			t.Fatalf("expected hr context filtered out")
		}
	}
	if len(res.References) != 2 {
		t.Fatalf("expected duplicates and out-of-scope contexts removed, got %+v", res.References)
	}
}

func TestRouteRetrieverFailureDegradesToNoInformation(t *testing.T) {
	f := newRouterFixture()
	f.retriever.err = errors.New("qdrant down")

	res, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "hr", Message: "leave policy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoContext {
		t.Fatalf("expected no-context answer on retriever failure")
	}
}

func TestRouteRerankUsesOriginalQuestion(t *testing.T) {
	f := newRouterFixture()
	f.sandbox.outcome = domain.StructuredFailed(domain.StructuredEngineFailure(errors.New("no such column: x")))
	var seen []string
	scorer := &scorerFake{scores: []float64{0.1, 0.9}}
	f.router.reranker = NewContextReranker(func(context.Context) (ports.PairScorer, error) {
		return recordingScorer{inner: scorer, seen: &seen}, nil
	}, 4, nil)

	question := "SELECT x FROM finance_ledger WHERE amount > 1"
	res, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: question})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != question {
		t.Fatalf("expected reranker to see original question, got %v", seen)
	}
	if res.References[0].Source != "data/general/faq.md" {
		t.Fatalf("expected reranked order, got %+v", res.References)
	}
	if !strings.Contains(res.FallbackReason, "no such column") {
		t.Fatalf("expected engine diagnostic in fallback reason, got %q", res.FallbackReason)
	}
	if res.FallbackKind != "engine" {
		t.Fatalf("expected engine fallback kind, got %q", res.FallbackKind)
	}
	if !strings.Contains(res.Answer, domain.StructuredFallbackNote+": query execution failed._") {
		t.Fatalf("expected sanitized fallback note in answer, got %q", res.Answer)
	}
	if strings.Contains(res.Answer, "no such column") {
		t.Fatalf("expected engine diagnostic kept out of the answer, got %q", res.Answer)
	}
}

func TestRouteValidatesInput(t *testing.T) {
	f := newRouterFixture()
	if _, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "hr", Message: "  "}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty message, got %v", err)
	}
	if _, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "hr", Message: "q", TopK: 9}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for top_k, got %v", err)
	}
}

func TestRouteGeneratorFailureIsTemporary(t *testing.T) {
	f := newRouterFixture()
	f.generator.err = errors.New("llm down")
	_, err := f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: "revenue"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestRouterAnalyticsAndTables(t *testing.T) {
	f := newRouterFixture()
	_, _ = f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: "revenue"})
	_, _ = f.router.Route(context.Background(), domain.ChatRequest{Role: "finance", Message: "revenue"})

	a := f.router.Analytics()
	if a.Queries.GrandTotal != 2 || a.Queries.PerRole["finance"]["mode:rag"] != 2 {
		t.Fatalf("unexpected usage snapshot: %+v", a.Queries)
	}
	if a.CacheEntries != 1 {
		t.Fatalf("expected 1 cache entry, got %d", a.CacheEntries)
	}

	tables, err := f.router.AvailableTables("finance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "finance_ledger" {
		t.Fatalf("expected only finance tables, got %+v", tables)
	}

	f.router.ResetCache()
	if f.router.Analytics().CacheEntries != 0 {
		t.Fatalf("expected cache reset")
	}

	f.router.ResetAnalytics()
	if a := f.router.Analytics(); a.Queries.GrandTotal != 0 || len(a.Queries.PerRole) != 0 {
		t.Fatalf("expected usage reset, got %+v", a.Queries)
	}
}
