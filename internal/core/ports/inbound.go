package ports

import (
	"context"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// ChatService is the inbound contract for role-scoped question answering.
type ChatService interface {
	Route(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error)
}

// AccessDirectory resolves roles into department scopes.
type AccessDirectory interface {
	DepartmentsFor(role string) domain.DepartmentSet
	RegisterRole(role string, departments []string)
	Roles() map[string]domain.DepartmentSet
}

// CorpusIndexer rebuilds the semantic index from the corpus.
type CorpusIndexer interface {
	IndexAll(ctx context.Context) (domain.IndexReport, error)
}
