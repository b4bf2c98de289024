package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

// SessionRepository stores the canonical case record of each session as one
// JSONB document.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.SessionStore = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*domain.CaseRecord, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
SELECT record
FROM intake_sessions
WHERE session_id = $1
`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "load session", fmt.Errorf("session %s", sessionID))
		}
		return nil, fmt.Errorf("query session record: %w", err)
	}

	var record domain.CaseRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	record.Normalize()
	return &record, nil
}

func (r *SessionRepository) Save(ctx context.Context, sessionID string, record *domain.CaseRecord) error {
	if record == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save session", errors.New("record is nil"))
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO intake_sessions (session_id, record, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE
SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
`, sessionID, raw, r.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session record: %w", err)
	}
	return nil
}
