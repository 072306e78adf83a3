package sqlsandbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const (
	defaultRowLimit = 50
	defaultMaxRows  = 1000
)

type Options struct {
	// Root holds one sub-directory per department.
	Root string

	// SourceBase is the directory table sources are reported relative to.
	// Defaults to the parent of Root.
	SourceBase string

	// RowLimit is appended to queries without a LIMIT clause.
	RowLimit int

	// MaxRows caps rows read from the engine regardless of the query.
	MaxRows int
	Opener  Opener
	Logger  *slog.Logger
}

// Sandbox executes SELECT queries over department-owned CSV and XLSX files.
// Each execution runs in a private in-memory database holding only the
// caller's tables.
type Sandbox struct {
	root       string
	sourceBase string
	rowLimit   int
	maxRows    int
	open       Opener
	logger     *slog.Logger

	registry atomic.Pointer[discovered]
}

func New(opts Options) (*Sandbox, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new sandbox", fmt.Errorf("corpus root is required"))
	}
	s := &Sandbox{
		root:       opts.Root,
		sourceBase: opts.SourceBase,
		rowLimit:   opts.RowLimit,
		maxRows:    opts.MaxRows,
		open:       opts.Opener,
		logger:     opts.Logger,
	}
	if s.sourceBase == "" {
		s.sourceBase = filepath.Dir(filepath.Clean(opts.Root))
	}
	if s.rowLimit <= 0 {
		s.rowLimit = defaultRowLimit
	}
	if s.maxRows <= 0 {
		s.maxRows = defaultMaxRows
	}
	if s.open == nil {
		s.open = OpenMemory
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-discovers tables and swaps the registry atomically.
func (s *Sandbox) Refresh() error {
	found, err := discover(s.root, s.sourceBase)
	if err != nil {
		return fmt.Errorf("discover tables: %w", err)
	}
	for _, skipped := range found.skipped {
		s.logger.Warn("structured_table_skipped", "detail", skipped)
	}
	s.registry.Store(&found)
	s.logger.Info("structured_tables_discovered", "tables", len(found.tables), "skipped", len(found.skipped))
	return nil
}

// Tables returns every registered descriptor keyed by table name.
func (s *Sandbox) Tables() map[string]domain.TableDescriptor {
	reg := s.registry.Load()
	out := make(map[string]domain.TableDescriptor, len(reg.tables))
	for name, t := range reg.tables {
		out[name] = t.Clone()
	}
	return out
}

func (s *Sandbox) AvailableTables(departments domain.DepartmentSet) map[string]domain.TableDescriptor {
	reg := s.registry.Load()
	out := make(map[string]domain.TableDescriptor)
	for name, t := range reg.tables {
		if departments.Contains(t.Department) {
			out[name] = t.Clone()
		}
	}
	return out
}

func (s *Sandbox) Execute(ctx context.Context, query string, departments domain.DepartmentSet) domain.StructuredOutcome {
	query = strings.TrimSpace(query)
	if rejection := validateShape(query); rejection != nil {
		return domain.StructuredFailed(rejection)
	}

	allowed := s.AvailableTables(departments)
	if len(allowed) == 0 {
		return domain.StructuredFailed(domain.RejectStructuredQuery("no structured data is available for this role"))
	}

	referenced := referencedTables(query)
	if len(referenced) == 0 {
		return domain.StructuredFailed(domain.RejectStructuredQuery("query must reference at least one known table"))
	}
	if invalid := unauthorizedTables(referenced, allowed); len(invalid) > 0 {
		return domain.StructuredFailed(domain.RejectUnauthorizedTables(invalid))
	}

	rows, columns, err := s.run(ctx, withRowLimit(query, s.rowLimit), allowed)
	if err != nil {
		s.logger.Info("structured_query_failed", "error", err)
		return domain.StructuredFailed(domain.StructuredEngineFailure(err))
	}

	tables := make([]domain.TableDescriptor, 0, len(referenced))
	for _, name := range referenced {
		tables = append(tables, allowed[name])
	}
	return domain.StructuredSuccess(domain.StructuredResult{
		Rows:    rows,
		Columns: columns,
		Tables:  tables,
	})
}
