package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// DocumentRepository archives uploaded originals and their per-page text.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: time.Now}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.ArchivedDocument) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO intake_documents (
	id, session_id, case_id, subtype, filename, mime_type, size_bytes, sha256, storage_key, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.SessionID, doc.CaseID, string(doc.Subtype), doc.Filename, doc.MimeType,
		doc.Size, doc.SHA256, doc.StorageKey, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.ArchivedDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, session_id, case_id, subtype, filename, mime_type, size_bytes, sha256, storage_key, created_at
FROM intake_documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.ArchivedDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, case_id, subtype, filename, mime_type, size_bytes, sha256, storage_key, created_at
FROM intake_documents
WHERE session_id = $1
ORDER BY created_at, id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []domain.ArchivedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SavePageText upserts the text of one page. A missing document is
// reported as not found.
func (r *DocumentRepository) SavePageText(ctx context.Context, documentID string, page int, text string) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO intake_page_texts (document_id, page, text, updated_at)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM intake_documents WHERE id = $1)
ON CONFLICT (document_id, page) DO UPDATE
SET text = EXCLUDED.text, updated_at = EXCLUDED.updated_at
`, documentID, page, text, r.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert page text: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("page text rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "save page text", fmt.Errorf("document %s", documentID))
	}
	return nil
}

func (r *DocumentRepository) PageTexts(ctx context.Context, documentID string) (map[int]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT page, text
FROM intake_page_texts
WHERE document_id = $1
ORDER BY page
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query page texts: %w", err)
	}
	defer rows.Close()

	out := map[int]string{}
	for rows.Next() {
		var page int
		var text string
		if err := rows.Scan(&page, &text); err != nil {
			return nil, fmt.Errorf("scan page text: %w", err)
		}
		out[page] = text
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page texts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.ArchivedDocument, error) {
	var doc domain.ArchivedDocument
	var caseID sql.NullString
	var subtype string
	if err := row.Scan(
		&doc.ID, &doc.SessionID, &caseID, &subtype, &doc.Filename, &doc.MimeType,
		&doc.Size, &doc.SHA256, &doc.StorageKey, &doc.CreatedAt,
	); err != nil {
		return nil, err
	}
	doc.CaseID = caseID.String
	doc.Subtype = domain.Subtype(subtype)
	return &doc, nil
}
