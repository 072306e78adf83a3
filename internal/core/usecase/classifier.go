package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

var (
	structuredKeywords = []string{
		"select", "from", "where", "group by", "order by", "limit",
		"sum", "avg", "count", "join", "having", "min", "max",
	}

	comparisonPattern      = regexp.MustCompile(`[<>]=?|==|!=`)
	structuredStartPattern = regexp.MustCompile(`^\s*(with\s+|select\s+)`)
)

// QueryClassifier is a cheap keyword heuristic deciding whether a question
// should first be attempted as a structured query. False positives are caught
// by sandbox validation; false negatives degrade to the semantic path.
type QueryClassifier struct{}

func NewQueryClassifier() QueryClassifier {
	return QueryClassifier{}
}

func (QueryClassifier) Classify(question string, knownTables []string) domain.QueryKind {
	text := strings.ToLower(strings.TrimSpace(question))
	if text == "" {
		return domain.QueryUnstructured
	}
	if structuredStartPattern.MatchString(text) {
		return domain.QueryStructured
	}

	hits := 0
	for _, keyword := range structuredKeywords {
		if strings.Contains(text, keyword) {
			hits++
		}
	}
	hasComparison := comparisonPattern.MatchString(text)
	mentionsTable := false
	for _, table := range knownTables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table != "" && strings.Contains(text, table) {
			mentionsTable = true
			break
		}
	}

	if hits >= 2 && (hasComparison || mentionsTable) {
		return domain.QueryStructured
	}
	if mentionsTable && hasComparison {
		return domain.QueryStructured
	}
	return domain.QueryUnstructured
}
