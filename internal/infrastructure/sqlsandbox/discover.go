package sqlsandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const (
	formatCSV  = "csv"
	formatXLSX = "xlsx"
)

var (
	unsafeIdentChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	repeatedUnders   = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier joins parts with "_" and maps them to [a-z0-9_]+.
func SanitizeIdentifier(parts ...string) string {
	raw := strings.Join(parts, "_")
	safe := unsafeIdentChars.ReplaceAllString(raw, "_")
	safe = repeatedUnders.ReplaceAllString(safe, "_")
	return strings.ToLower(strings.Trim(safe, "_"))
}

type discovered struct {
	tables  map[string]domain.TableDescriptor
	skipped []string
}

// discover scans one level of department folders under root. Files are
// visited in sorted order so collision suffixes are stable.
func discover(root, sourceBase string) (discovered, error) {
	out := discovered{tables: make(map[string]domain.TableDescriptor)}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("read corpus root: %w", err)
	}

	for _, dirEntry := range entries {
		if !dirEntry.IsDir() || strings.HasPrefix(dirEntry.Name(), ".") {
			continue
		}
		department := domain.NormalizeDepartment(dirEntry.Name())
		departmentDir := filepath.Join(root, dirEntry.Name())
		files, err := os.ReadDir(departmentDir)
		if err != nil {
			return out, fmt.Errorf("read department %s: %w", department, err)
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			format := tabularFormat(f.Name())
			if format == "" {
				continue
			}
			path := filepath.Join(departmentDir, f.Name())
			desc, err := describe(path, department, format, sourceBase)
			if err != nil {
				out.skipped = append(out.skipped, fmt.Sprintf("%s: %v", relSource(sourceBase, path), err))
				continue
			}
			desc.Name = uniqueName(out.tables, SanitizeIdentifier(department, stem(f.Name())))
			if desc.Name == "" {
				out.skipped = append(out.skipped, relSource(sourceBase, path)+": empty table name")
				continue
			}
			out.tables[desc.Name] = desc
		}
	}
	return out, nil
}

func describe(path, department, format, sourceBase string) (domain.TableDescriptor, error) {
	desc := domain.TableDescriptor{
		Department: department,
		Path:       path,
		Source:     relSource(sourceBase, path),
		Format:     format,
	}
	src, err := openRows(path, format)
	if err != nil {
		return desc, err
	}
	defer src.Close()

	header, err := src.Next()
	if err != nil {
		return desc, fmt.Errorf("read header: %w", err)
	}
	desc.Sheet = src.Sheet()
	desc.Columns = normalizeColumns(header)
	if len(desc.Columns) == 0 {
		return desc, fmt.Errorf("no columns in header")
	}
	return desc, nil
}

// normalizeColumns trims headers, names blanks column_N and suffixes
// case-insensitive duplicates.
func normalizeColumns(header []string) []string {
	last := len(header)
	for last > 0 && strings.TrimSpace(header[last-1]) == "" {
		last--
	}
	out := make([]string, 0, last)
	seen := make(map[string]struct{}, last)
	for i, raw := range header[:last] {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; ; n++ {
			if _, dup := seen[strings.ToLower(candidate)]; !dup {
				break
			}
			candidate = name + "_" + strconv.Itoa(n)
		}
		seen[strings.ToLower(candidate)] = struct{}{}
		out = append(out, candidate)
	}
	return out
}

func uniqueName(existing map[string]domain.TableDescriptor, name string) string {
	if name == "" {
		return ""
	}
	candidate := name
	for n := 2; ; n++ {
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
		candidate = name + "_" + strconv.Itoa(n)
	}
}

func tabularFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return formatCSV
	case ".xlsx":
		return formatXLSX
	default:
		return ""
	}
}

func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func relSource(base, path string) string {
	if base != "" {
		if rel, err := filepath.Rel(base, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

func sortedNames(tables map[string]domain.TableDescriptor) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
