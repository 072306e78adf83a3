package sqlsandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

var (
	readQueryPattern = regexp.MustCompile(`(?i)^\s*select\s`)
	tableRefPattern  = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-z_][a-z0-9_]*)`)
	limitPattern     = regexp.MustCompile(`(?is)\blimit\s+\d+`)
)

// validateShape rejects anything that is not a single SELECT statement.
func validateShape(query string) *domain.StructuredQueryError {
	switch {
	case query == "":
		return domain.RejectStructuredQuery("query is empty")
	case strings.Contains(query, ";"):
		return domain.RejectStructuredQuery("multiple statements are not supported")
	case !readQueryPattern.MatchString(query):
		return domain.RejectStructuredQuery("only SELECT queries are supported")
	}
	return nil
}

// referencedTables returns lower-cased identifiers following FROM or JOIN, in
// order of first appearance.
func referencedTables(query string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(query, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func unauthorizedTables(referenced []string, allowed map[string]domain.TableDescriptor) []string {
	var out []string
	for _, name := range referenced {
		if _, ok := allowed[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func withRowLimit(query string, limit int) string {
	if limitPattern.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s\nLIMIT %d", strings.TrimRight(query, " \t\r\n"), limit)
}
