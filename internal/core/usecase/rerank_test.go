package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

type scorerFake struct {
	scores []float64
	err    error
	calls  int
}

func (f *scorerFake) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(passages)], nil
}

func loaderFor(s ports.PairScorer, loads *int) ports.ScorerLoader {
	return func(context.Context) (ports.PairScorer, error) {
		*loads++
		return s, nil
	}
}

func rerankInput() []domain.RetrievedContext {
	return []domain.RetrievedContext{
		{Document: "a", Department: "hr", Source: "a.md", Score: domain.Score(0.9)},
		{Document: "b", Department: "hr", Source: "b.md", Score: domain.Score(0.8)},
		{Document: "c", Department: "hr", Source: "c.md", Score: domain.Score(0.7)},
	}
}

func TestContextRerankerDisabledReturnsInput(t *testing.T) {
	r := NewContextReranker(nil, 2, nil)
	in := rerankInput()
	out := r.Reorder(context.Background(), "q", in)
	if len(out) != 3 || &out[0] != &in[0] {
		t.Fatalf("expected input slice returned unchanged")
	}
	if *out[0].Score != 0.9 {
		t.Fatalf("expected scores untouched, got %v", *out[0].Score)
	}
}

func TestContextRerankerSortsStableAndTruncates(t *testing.T) {
	loads := 0
	scorer := &scorerFake{scores: []float64{0.1, 0.5, 0.5}}
	r := NewContextReranker(loaderFor(scorer, &loads), 2, nil)

	out := r.Reorder(context.Background(), "q", rerankInput())
	if len(out) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(out))
	}
	if out[0].Source != "b.md" || out[1].Source != "c.md" {
		t.Fatalf("expected stable order b,c got %s,%s", out[0].Source, out[1].Source)
	}

	r.Reorder(context.Background(), "q", rerankInput())
	if loads != 1 {
		t.Fatalf("expected scorer loaded once, got %d", loads)
	}
}

func TestContextRerankerLoadFailureDisablesPermanently(t *testing.T) {
	loads := 0
	r := NewContextReranker(func(context.Context) (ports.PairScorer, error) {
		loads++
		return nil, errors.New("model missing")
	}, 4, nil)

	in := rerankInput()
	out := r.Reorder(context.Background(), "q", in)
	if len(out) != 3 || out[0].Source != "a.md" {
		t.Fatalf("expected input passthrough on load failure")
	}
	if r.Enabled() {
		t.Fatalf("expected reranker disabled after load failure")
	}
	r.Reorder(context.Background(), "q", in)
	if loads != 1 {
		t.Fatalf("expected no reload attempts, got %d", loads)
	}
}

func TestContextRerankerPredictFailureDisables(t *testing.T) {
	loads := 0
	scorer := &scorerFake{err: errors.New("boom")}
	r := NewContextReranker(loaderFor(scorer, &loads), 4, nil)

	out := r.Reorder(context.Background(), "q", rerankInput())
	if len(out) != 3 {
		t.Fatalf("expected passthrough, got %d", len(out))
	}
	r.Reorder(context.Background(), "q", rerankInput())
	if scorer.calls != 1 {
		t.Fatalf("expected scorer not called after disable, got %d", scorer.calls)
	}
}

type cancellingScorer struct {
	cancel context.CancelFunc
	calls  int
}

func (s *cancellingScorer) Score(ctx context.Context, _ string, passages []string) ([]float64, error) {
	s.calls++
	if s.calls == 1 {
		s.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([]float64, len(passages))
	for i := range out {
		out[i] = float64(i)
	}
	return out, nil
}

func TestContextRerankerCancelledRequestKeepsRerankerEnabled(t *testing.T) {
	loads := 0
	scorer := &scorerFake{scores: []float64{0.1, 0.5, 0.9}}
	r := NewContextReranker(loaderFor(scorer, &loads), 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := rerankInput()
	if out := r.Reorder(ctx, "q", in); len(out) != len(in) {
		t.Fatalf("expected input unchanged for cancelled request, got %d", len(out))
	}
	if !r.Enabled() {
		t.Fatalf("expected reranker to stay enabled after a cancelled request")
	}
	if out := r.Reorder(context.Background(), "q", rerankInput()); len(out) != 2 || out[0].Source != "c.md" {
		t.Fatalf("expected next request reranked, got %+v", out)
	}
}

func TestContextRerankerCancelDuringScoringIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scorer := &cancellingScorer{cancel: cancel}
	r := NewContextReranker(func(context.Context) (ports.PairScorer, error) { return scorer, nil }, 2, nil)

	if out := r.Reorder(ctx, "q", rerankInput()); len(out) != 3 {
		t.Fatalf("expected input unchanged, got %d", len(out))
	}
	if !r.Enabled() {
		t.Fatalf("expected reranker to stay enabled")
	}
	if out := r.Reorder(context.Background(), "q", rerankInput()); len(out) != 2 || out[0].Source != "c.md" {
		t.Fatalf("expected healthy request reranked, got %+v", out)
	}
}

func TestContextRerankerLoadOutlivesFirstRequest(t *testing.T) {
	var loadCtx context.Context
	r := NewContextReranker(func(ctx context.Context) (ports.PairScorer, error) {
		loadCtx = ctx
		return &scorerFake{scores: []float64{1, 2, 3}}, nil
	}, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	r.Reorder(ctx, "q", rerankInput())
	cancel()

	if loadCtx == nil {
		t.Fatalf("expected scorer to be loaded")
	}
	if loadCtx.Err() != nil {
		t.Fatalf("expected load context detached from the request, got %v", loadCtx.Err())
	}
}

func TestLexicalScorerPrefersOverlap(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "parental leave policy", []string{
		"quarterly revenue grew",
		"The parental leave policy grants 12 weeks.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[1] <= scores[0] {
		t.Fatalf("expected overlapping passage to score higher, got %v", scores)
	}
}
