package sqlsandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// Opener returns a fresh, private database for one execution.
type Opener func(ctx context.Context) (*sql.DB, error)

// OpenMemory opens a single-connection in-memory SQLite database.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// run materializes only the allowed tables into a private database, locks it
// read-only and executes query.
func (s *Sandbox) run(ctx context.Context, query string, allowed map[string]domain.TableDescriptor) ([]map[string]string, []string, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	for _, name := range sortedNames(allowed) {
		if err := loadTable(ctx, conn, name, allowed[name]); err != nil {
			return nil, nil, fmt.Errorf("load table %s: %w", name, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, nil, fmt.Errorf("lock database: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	return s.collect(rows)
}

func (s *Sandbox) collect(rows *sql.Rows) ([]map[string]string, []string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	out := make([]map[string]string, 0, 16)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if len(out) >= s.maxRows {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]string, len(columns))
		for i, column := range columns {
			row[column] = stringify(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return out, columns, nil
}

func loadTable(ctx context.Context, conn *sql.Conn, name string, desc domain.TableDescriptor) error {
	if len(desc.Columns) == 0 {
		return errors.New("table has no columns")
	}
	records, err := readRecords(desc)
	if err != nil {
		return err
	}
	kinds := inferColumnKinds(records, len(desc.Columns))

	defs := make([]string, len(desc.Columns))
	marks := make([]string, len(desc.Columns))
	for i, column := range desc.Columns {
		defs[i] = quoteIdent(column) + " " + kinds[i].sqlType()
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(desc.Columns))
	for _, record := range records {
		for i := range args {
			args[i] = nil
			if i < len(record) {
				args[i] = kinds[i].value(strings.TrimSpace(record[i]))
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}

// readRecords returns the non-blank data records of a source, header excluded.
func readRecords(desc domain.TableDescriptor) ([][]string, error) {
	src, err := openRows(desc.Path, desc.Format)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if _, err := src.Next(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var records [][]string
	for {
		record, err := src.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		if !isBlankRecord(record) {
			records = append(records, record)
		}
	}
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatFloat(t, 'f', 1, 64)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
