package usecase

import (
	"fmt"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// scopeContexts drops contexts outside departments and repeated passages,
// keeping first-seen order.
func scopeContexts(contexts []domain.RetrievedContext, departments domain.DepartmentSet) []domain.RetrievedContext {
	out := make([]domain.RetrievedContext, 0, len(contexts))
	seen := make(map[string]struct{}, len(contexts))
	for _, c := range contexts {
		if !departments.Contains(c.Department) {
			continue
		}
		key := contextKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// contextKey identifies a passage. The text is part of the key because
// retrievers that do not report chunk positions leave ChunkIndex at zero.
func contextKey(c domain.RetrievedContext) string {
	return fmt.Sprintf("%s|%s|%d|%s", c.Department, c.Source, c.ChunkIndex, c.Document)
}

// contextReferences builds provenance for every context that has a source.
func contextReferences(contexts []domain.RetrievedContext) []domain.Reference {
	out := make([]domain.Reference, 0, len(contexts))
	for _, c := range contexts {
		if c.Source == "" {
			continue
		}
		ref := domain.Reference{Source: c.Source, Department: c.Department}
		if c.Score != nil {
			score := *c.Score
			ref.Score = &score
		}
		out = append(out, ref)
	}
	return out
}

// tableReferences builds provenance from the tables a query actually read.
func tableReferences(tables []domain.TableDescriptor) []domain.Reference {
	out := make([]domain.Reference, 0, len(tables))
	for _, t := range tables {
		source := t.Source
		if source == "" {
			source = t.Name
		}
		out = append(out, domain.Reference{Source: source, Department: t.Department})
	}
	return out
}

// withFallbackNote tells the caller why the structured attempt was dropped.
func withFallbackNote(answer string, failure *domain.StructuredQueryError) string {
	return fmt.Sprintf("%s\n\n_%s: %s._", answer, domain.StructuredFallbackNote, failure.PublicReason())
}

func fallbackQuestion(question string, failure *domain.StructuredQueryError) string {
	return fmt.Sprintf("%s\n\n(Structured query fallback triggered: %s)", question, failure.Error())
}
