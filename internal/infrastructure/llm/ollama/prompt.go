package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const systemPrompt = `You are an internal company assistant.
Answer only from the provided context and cite the source documents you used.
If the answer is not in the context, say that you cannot find it in the accessible documents.`

func buildAnswerPrompt(question, role string, contexts []domain.RetrievedContext) string {
	var b strings.Builder
	for idx, c := range contexts {
		fmt.Fprintf(&b, "Source %d: %s (department: %s)", idx+1, sourceLabel(c), c.Department)
		if c.Score != nil {
			fmt.Fprintf(&b, " (score: %.2f)", *c.Score)
		}
		b.WriteString("\n")
		b.WriteString(c.Document)
		b.WriteString("\n\n")
	}

	return fmt.Sprintf(`Role: %s
Question: %s

Context:
%s
Provide a concise answer and reference the relevant sources.
`, role, question, b.String())
}

func sourceLabel(c domain.RetrievedContext) string {
	if c.Source == "" {
		return "unknown source"
	}
	return c.Source
}
