package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

const defaultRecentLimit = 50

// AuditRepository persists one row per routed chat request. It never stores
// question text or answers.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_audit (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	mode TEXT NOT NULL,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	reference_count INTEGER NOT NULL DEFAULT 0,
	fallback_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_audit_created_at ON chat_audit(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chat_audit_role ON chat_audit(role);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, record domain.AuditRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_audit (id, role, mode, cache_hit, reference_count, fallback_reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		record.ID, record.Role, string(record.Mode), record.CacheHit, record.ReferenceCount,
		record.FallbackReason, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent returns the newest audit records first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, role, mode, cache_hit, reference_count, fallback_reason, created_at
FROM chat_audit
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0, limit)
	for rows.Next() {
		var rec domain.AuditRecord
		var mode string
		if err := rows.Scan(&rec.ID, &rec.Role, &mode, &rec.CacheHit, &rec.ReferenceCount, &rec.FallbackReason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Mode = domain.RouteMode(mode)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
