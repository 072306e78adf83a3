package ollama

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

// EmbeddingScorer scores passages by cosine similarity to the question
// embedding.
type EmbeddingScorer struct {
	embedder ports.Embedder
}

func NewEmbeddingScorer(embedder ports.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

func (s *EmbeddingScorer) Score(ctx context.Context, question string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	inputs := make([]string, 0, len(passages)+1)
	inputs = append(inputs, question)
	inputs = append(inputs, passages...)

	vectors, err := s.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed rerank pairs: %w", err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embed rerank pairs: got %d vectors for %d inputs", len(vectors), len(inputs))
	}

	out := make([]float64, len(passages))
	for i := range passages {
		out[i] = cosine(vectors[0], vectors[i+1])
	}
	return out, nil
}

// ScorerLoader checks the embedding model once before handing out a scorer.
func ScorerLoader(embedder ports.Embedder) ports.ScorerLoader {
	return func(ctx context.Context) (ports.PairScorer, error) {
		warmup, err := embedder.Embed(ctx, []string{"reranker warmup"})
		if err != nil {
			return nil, fmt.Errorf("load rerank model: %w", err)
		}
		if len(warmup) != 1 || len(warmup[0]) == 0 {
			return nil, errors.New("load rerank model: empty warmup embedding")
		}
		return NewEmbeddingScorer(embedder), nil
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
