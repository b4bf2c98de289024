package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func fixedNow() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }

func TestSessionLoadMissingIsNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT record").
		WithArgs("s1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Load(context.Background(), "s1")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionLoadNormalizesRecord(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT record").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).
			AddRow([]byte(`{"buyers": [{"name": "Ana"}], "credits": [], "pending_document_intent": "spouse"}`)))

	rec, err := repo.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.OperationType != domain.OperationPurchaseSale || rec.Sellers == nil {
		t.Fatalf("expected normalized record, got %+v", rec)
	}
	if !rec.PaysCash() {
		t.Fatalf("expected confirmed cash to survive the round trip")
	}
	if rec.PendingDocumentIntent != "spouse" {
		t.Fatalf("expected ephemeral flag restored, got %q", rec.PendingDocumentIntent)
	}
}

func TestSessionSaveUpserts(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewSessionRepository(db)
	repo.now = fixedNow

	rec := domain.NewCaseRecord()
	rec.Buyers = append(rec.Buyers, domain.PartyRecord{Name: "Ana"})
	raw, _ := json.Marshal(rec)

	mock.ExpectExec("INSERT INTO intake_sessions").
		WithArgs("s1", raw, fixedNow()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), "s1", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionSaveRejectsNil(t *testing.T) {
	db, _, done := newMock(t)
	defer done()
	if err := NewSessionRepository(db).Save(context.Background(), "s1", nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDocumentGetByIDReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT id, session_id, case_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDocumentListBySession(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewDocumentRepository(db)

	cols := []string{"id", "session_id", "case_id", "subtype", "filename", "mime_type", "size_bytes", "sha256", "storage_key", "created_at"}
	mock.ExpectQuery("SELECT id, session_id, case_id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("d1", "s1", nil, "deed", "escritura.pdf", "application/pdf", int64(10), "abc", "s1/d1/escritura.pdf", fixedNow()).
			AddRow("d2", "s1", "c1", "identification", "ine.jpg", "image/jpeg", int64(5), "def", "s1/d2/ine.jpg", fixedNow()))

	docs, err := repo.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].CaseID != "" || docs[1].CaseID != "c1" || docs[1].Subtype != domain.SubtypeIdentification {
		t.Fatalf("unexpected documents: %+v", docs)
	}
}

func TestSavePageTextMissingDocument(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewDocumentRepository(db)
	repo.now = fixedNow

	mock.ExpectExec("INSERT INTO intake_page_texts").
		WithArgs("missing", 1, "texto", fixedNow()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SavePageText(context.Background(), "missing", 1, "texto")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(schemaLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS intake_sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
