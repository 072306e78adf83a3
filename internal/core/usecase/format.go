package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const (
	markdownTableMaxRows = 10
	noRowsAnswer         = "No rows returned for this query."
)

// FormatMarkdownTable renders rows as a markdown table capped at maxRows.
func FormatMarkdownTable(rows []map[string]string, columns []string, maxRows int) string {
	if len(rows) == 0 {
		return noRowsAnswer
	}
	if maxRows <= 0 {
		maxRows = markdownTableMaxRows
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = "---"
	}
	b.WriteString("| " + strings.Join(separators, " | ") + " |")

	shown := rows
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	cells := make([]string, len(columns))
	for _, row := range shown {
		for i, column := range columns {
			cells[i] = row[column]
		}
		b.WriteString("\n| " + strings.Join(cells, " | ") + " |")
	}
	if len(rows) > maxRows {
		fmt.Fprintf(&b, "\n_%d more rows not shown (limited to %d)._", len(rows)-maxRows, maxRows)
	}
	return b.String()
}

func structuredAnswer(result *domain.StructuredResult) string {
	return domain.StructuredAnswerTitle + "\n\n" + FormatMarkdownTable(result.Rows, result.Columns, markdownTableMaxRows)
}
