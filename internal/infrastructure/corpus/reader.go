// Package corpus reads department-owned documents for the semantic index and
// watches the corpus for changes.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// Reader walks <root>/<department>/** and extracts text from supported files.
// Sources are reported relative to the parent of root.
type Reader struct {
	root       string
	sourceBase string
	logger     *slog.Logger
}

func NewReader(root string, logger *slog.Logger) (*Reader, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new corpus reader", fmt.Errorf("corpus root is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus root: %w", err)
	}
	return &Reader{root: abs, sourceBase: filepath.Dir(abs), logger: logger}, nil
}

func (r *Reader) Root() string {
	return r.root
}

func (r *Reader) Documents(ctx context.Context) ([]domain.CorpusDocument, []string, error) {
	departments, err := r.departmentDirs()
	if err != nil {
		return nil, nil, err
	}

	docs := make([]domain.CorpusDocument, 0, 32)
	skipped := make([]string, 0)
	for _, name := range departments {
		department := domain.NormalizeDepartment(name)
		walkErr := filepath.WalkDir(filepath.Join(r.root, name), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}

			source := r.source(path)
			extract, ok := extractorFor(path)
			if !ok {
				skipped = append(skipped, source)
				return nil
			}
			text, err := extract(path)
			if err != nil {
				r.logger.Warn("corpus_document_skipped", "source", source, "error", err)
				skipped = append(skipped, source)
				return nil
			}
			docs = append(docs, domain.CorpusDocument{
				Department: department,
				Source:     source,
				Path:       path,
				Text:       text,
			})
			return nil
		})
		if walkErr != nil {
			return nil, nil, fmt.Errorf("walk department %s: %w", department, walkErr)
		}
	}

	r.logger.Info("corpus_read", "root", r.root, "documents", len(docs), "skipped", len(skipped))
	return docs, skipped, nil
}

func (r *Reader) departmentDirs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read corpus root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Reader) source(path string) string {
	rel, err := filepath.Rel(r.sourceBase, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
