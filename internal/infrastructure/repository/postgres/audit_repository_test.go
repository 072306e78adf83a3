package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AuditRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(2026101901)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_audit").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordInsertsAuditRow(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO chat_audit").
		WithArgs("id-1", "finance", "sql_fallback", false, 2, "query references unauthorized tables: hr_hr_data", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), domain.AuditRecord{
		ID:             "id-1",
		Role:           "finance",
		Mode:           domain.ModeSQLFallback,
		ReferenceCount: 2,
		FallbackReason: "query references unauthorized tables: hr_hr_data",
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordWrapsDriverError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO chat_audit").WillReturnError(errors.New("connection reset"))
	err := repo.Record(context.Background(), domain.AuditRecord{ID: "x", CreatedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecentScansNewestFirst(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "role", "mode", "cache_hit", "reference_count", "fallback_reason", "created_at"}).
		AddRow("b", "hr", "sql", false, 1, "", now).
		AddRow("a", "hr", "rag", true, 3, "", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT id, role, mode").WithArgs(50).WillReturnRows(rows)

	got, err := repo.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].Mode != domain.ModeRAG || !got[1].CacheHit {
		t.Fatalf("unexpected records: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
