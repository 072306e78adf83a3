package qdrant

import (
	"context"
	"fmt"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

// Retriever is the department-filtered semantic search collaborator.
type Retriever struct {
	embedder ports.Embedder
	client   *Client
}

func NewRetriever(embedder ports.Embedder, client *Client) *Retriever {
	return &Retriever{embedder: embedder, client: client}
}

func (r *Retriever) Search(ctx context.Context, question string, departments domain.DepartmentSet, topK int) ([]domain.RetrievedContext, error) {
	if departments.Empty() {
		return nil, nil
	}
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	contexts, err := r.client.Search(ctx, vector, topK, departments)
	if err != nil {
		return nil, fmt.Errorf("search vector db: %w", err)
	}
	return contexts, nil
}
