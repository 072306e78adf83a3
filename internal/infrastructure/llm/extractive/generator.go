package extractive

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/core/ports"
)

const (
	UnavailableNote = "LLM generation is unavailable."
	snippetWidth    = 180
)

var (
	wordPattern     = regexp.MustCompile(`\b\w+\b`)
	sentencePattern = regexp.MustCompile(`[.!?]\s+`)
	stopwords       = map[string]struct{}{
		"what": {}, "was": {}, "were": {}, "the": {}, "this": {}, "that": {}, "with": {},
		"from": {}, "into": {}, "does": {}, "have": {}, "has": {}, "had": {}, "about": {},
		"which": {}, "where": {}, "when": {}, "please": {}, "give": {}, "show": {},
		"tell": {}, "much": {}, "many": {}, "year": {}, "years": {},
	}
)

// Generator answers with the primary generator and falls back to an
// extractive answer when it is missing or fails.
type Generator struct {
	primary ports.AnswerGenerator
	logger  *slog.Logger
}

func New(primary ports.AnswerGenerator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{primary: primary, logger: logger}
}

func (g *Generator) Generate(ctx context.Context, question, role string, contexts []domain.RetrievedContext) (string, error) {
	if len(contexts) == 0 {
		return domain.NoInformationAnswer, nil
	}
	if g.primary != nil {
		answer, err := g.primary.Generate(ctx, question, role, contexts)
		if err == nil {
			return answer, nil
		}
		g.logger.Warn("answer_generation_fallback", "role", role, "error", err)
	}
	return Answer(question, contexts), nil
}

// Answer picks the sentence covering most question terms, or lists snippets
// when nothing matches.
func Answer(question string, contexts []domain.RetrievedContext) string {
	if sentence, source := bestSentence(question, contexts); sentence != "" {
		return strings.Join([]string{
			sentence,
			"(source: " + source + ")",
			"",
			UnavailableNote,
		}, "\n")
	}

	lines := []string{"Key points from the knowledge base:"}
	for _, c := range contexts {
		lines = append(lines, "- "+shorten(c.Document, snippetWidth)+" (source: "+sourceOf(c)+")")
	}
	lines = append(lines, UnavailableNote)
	return strings.Join(lines, "\n")
}

func bestSentence(question string, contexts []domain.RetrievedContext) (string, string) {
	terms := questionTerms(question)
	if len(terms) == 0 {
		return "", ""
	}

	var best, bestSource string
	bestScore := 0
	for _, c := range contexts {
		for _, sentence := range splitSentences(c.Document) {
			lower := strings.ToLower(sentence)
			score := 0
			for term := range terms {
				if strings.Contains(lower, term) {
					score++
				}
			}
			if score > bestScore {
				best, bestSource, bestScore = sentence, sourceOf(c), score
			}
		}
	}
	return best, bestSource
}

func questionTerms(question string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}

// splitSentences splits after terminal punctuation, keeping it attached.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// shorten collapses whitespace and truncates at a word boundary.
func shorten(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	const placeholder = "..."
	runes := []rune(text)
	cut := string(runes[:width-len(placeholder)])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ") + placeholder
}

func sourceOf(c domain.RetrievedContext) string {
	if c.Source == "" {
		return "unknown source"
	}
	return c.Source
}
