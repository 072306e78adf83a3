package sqlsandbox

import (
	"regexp"
	"strconv"
	"strings"
)

// columnKind is the storage type inferred for one source column.
type columnKind int

const (
	kindText columnKind = iota
	kindInteger
	kindReal
)

// Leading zeros and exponents keep a cell textual: "007", "01234" and "1E3"
// are identifiers, not numbers.
var plainNumber = regexp.MustCompile(`^[+-]?(0|[1-9][0-9]*)(\.[0-9]+)?$`)

func classifyCell(cell string) columnKind {
	if !plainNumber.MatchString(cell) {
		return kindText
	}
	if !strings.Contains(cell, ".") {
		if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return kindInteger
		}
	}
	if _, err := strconv.ParseFloat(cell, 64); err == nil {
		return kindReal
	}
	return kindText
}

// inferColumnKinds picks one type per column. A column is numeric only when
// every non-empty cell is; empty columns are text.
func inferColumnKinds(records [][]string, width int) []columnKind {
	kinds := make([]columnKind, width)
	seen := make([]bool, width)
	for _, record := range records {
		for i := 0; i < width && i < len(record); i++ {
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			cellKind := classifyCell(cell)
			switch {
			case !seen[i]:
				kinds[i] = cellKind
				seen[i] = true
			case kinds[i] == kindText || cellKind == kindText:
				kinds[i] = kindText
			case cellKind == kindReal:
				kinds[i] = kindReal
			}
		}
	}
	return kinds
}

func (k columnKind) sqlType() string {
	switch k {
	case kindInteger:
		return "INTEGER"
	case kindReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// value converts a trimmed cell for insertion; empty cells become NULL.
func (k columnKind) value(cell string) any {
	if cell == "" {
		return nil
	}
	switch k {
	case kindInteger:
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return n
		}
	case kindReal:
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	}
	return cell
}
