package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

const defaultRerankTopN = 4

// ContextReranker re-scores candidates with a pairwise model loaded on first
// use. A load or predict failure disables it for the process lifetime; a
// request whose own context ended only skips reranking for that request.
type ContextReranker struct {
	load   ports.ScorerLoader
	topN   int
	logger *slog.Logger

	once     sync.Once
	scorer   ports.PairScorer
	disabled atomic.Bool
}

func NewContextReranker(load ports.ScorerLoader, topN int, logger *slog.Logger) *ContextReranker {
	if topN <= 0 {
		topN = defaultRerankTopN
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &ContextReranker{load: load, topN: topN, logger: logger}
	if load == nil {
		r.disabled.Store(true)
	}
	return r
}

func (r *ContextReranker) Enabled() bool {
	return r != nil && !r.disabled.Load()
}

// Reorder sorts contexts by pairwise score, descending and stable, and keeps
// the top N. Disabled rerankers and empty input return contexts unchanged.
func (r *ContextReranker) Reorder(ctx context.Context, question string, contexts []domain.RetrievedContext) []domain.RetrievedContext {
	if !r.Enabled() || len(contexts) == 0 || ctx.Err() != nil {
		return contexts
	}

	scorer := r.ensureScorer(ctx)
	if scorer == nil {
		return contexts
	}

	passages := make([]string, len(contexts))
	for i, c := range contexts {
		passages[i] = c.Document
	}
	scores, err := scorer.Score(ctx, question, passages)
	if err == nil && len(scores) != len(passages) {
		err = errors.New("scorer returned mismatched score count")
	}
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("reranker_skipped", "error", err)
			return contexts
		}
		r.disable("reranker_predict_failed", err)
		return contexts
	}

	order := make([]int, len(contexts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	limit := r.topN
	if limit > len(order) {
		limit = len(order)
	}
	out := make([]domain.RetrievedContext, 0, limit)
	for _, idx := range order[:limit] {
		out = append(out, contexts[idx])
	}
	return out
}

func (r *ContextReranker) ensureScorer(ctx context.Context) ports.PairScorer {
	r.once.Do(func() {
		scorer, err := r.load(context.WithoutCancel(ctx))
		if err == nil && scorer == nil {
			err = errors.New("loader returned nil scorer")
		}
		if err != nil {
			r.disable("reranker_load_failed", err)
			return
		}
		r.scorer = scorer
	})
	if r.disabled.Load() {
		return nil
	}
	return r.scorer
}

func (r *ContextReranker) disable(event string, err error) {
	if r.disabled.CompareAndSwap(false, true) {
		r.logger.Warn(event, "error", domain.WrapError(domain.ErrRerankerUnavailable, "rerank contexts", err))
	}
}

// LexicalScorer is an in-process PairScorer based on query token coverage.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, question string, passages []string) ([]float64, error) {
	queryTokens := toTokenSet(question)
	out := make([]float64, len(passages))
	for i, passage := range passages {
		tokens := splitAlphaNumLower(passage)
		passageSet := make(map[string]struct{}, len(tokens))
		for _, token := range tokens {
			passageSet[token] = struct{}{}
		}
		out[i] = 0.85*tokenOverlap(queryTokens, passageSet) + 0.15*phraseHit(question, passage)
	}
	return out, nil
}

// LexicalScorerLoader adapts LexicalScorer to ports.ScorerLoader.
func LexicalScorerLoader(context.Context) (ports.PairScorer, error) {
	return LexicalScorer{}, nil
}

func tokenOverlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func phraseHit(question, passage string) float64 {
	question = strings.Join(splitAlphaNumLower(question), " ")
	if question == "" {
		return 0
	}
	if strings.Contains(strings.Join(splitAlphaNumLower(passage), " "), question) {
		return 1
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
