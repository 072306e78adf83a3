package ports

import (
	"context"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// SemanticRetriever is the similarity-search collaborator. Implementations
// must only return contexts whose department is in departments.
type SemanticRetriever interface {
	Search(ctx context.Context, question string, departments domain.DepartmentSet, topK int) ([]domain.RetrievedContext, error)
}

// AnswerGenerator turns already department-filtered contexts into prose.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, role string, contexts []domain.RetrievedContext) (string, error)
}

// StructuredExecutor validates and runs department-scoped tabular queries.
type StructuredExecutor interface {
	AvailableTables(departments domain.DepartmentSet) map[string]domain.TableDescriptor
	Execute(ctx context.Context, query string, departments domain.DepartmentSet) domain.StructuredOutcome
}

// PairScorer scores (question, passage) pairs; higher is more relevant.
type PairScorer interface {
	Score(ctx context.Context, question string, passages []string) ([]float64, error)
}

// ScorerLoader builds a PairScorer on first use.
type ScorerLoader func(ctx context.Context) (PairScorer, error)

// AuditLog persists one record per routed request.
type AuditLog interface {
	Record(ctx context.Context, record domain.AuditRecord) error
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// CorpusSource lists department-owned documents for indexing.
type CorpusSource interface {
	Documents(ctx context.Context) ([]domain.CorpusDocument, []string, error)
}

// VectorIndex stores chunk vectors for the semantic retriever.
type VectorIndex interface {
	Reset(ctx context.Context) error
	IndexChunks(ctx context.Context, chunks []domain.IndexedChunk, vectors [][]float32) error
}

// ReindexBus carries reindex requests and completion events between binaries.
type ReindexBus interface {
	PublishReindex(ctx context.Context, req domain.ReindexRequest) error
	PublishIndexed(ctx context.Context, event domain.IndexedEvent) error
}
