package ports

import (
	"context"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

type BatchRequest struct {
	SessionID      string
	CaseID         string
	BatchID        string // assigned when empty
	Files          []domain.RawFile
	UserText       string
	LastQuestion   string
	ForceReprocess bool
}

type BatchHandle struct {
	BatchID   string                     `json:"batch_id"`
	SessionID string                     `json:"session_id"`
	Documents []domain.ProcessedDocument `json:"documents"`
}

// IntakeService is the inbound contract of the ingestion pipeline.
type IntakeService interface {
	// StartBatch registers the batch and processes it in the background.
	StartBatch(ctx context.Context, req BatchRequest) (*BatchHandle, error)
	// RunBatch processes the batch and returns once it reaches a terminal state.
	RunBatch(ctx context.Context, req BatchRequest) (*domain.BatchReport, error)
	// RunSubmission loads stored files of a queued batch and runs it.
	RunSubmission(ctx context.Context, sub BatchSubmission) (*domain.BatchReport, error)
	// CancelBatch cancels a running batch. An empty sessionID matches any session.
	CancelBatch(ctx context.Context, sessionID, batchID string) error
	Record(ctx context.Context, sessionID string) (*domain.CaseRecord, error)
	Wizard(ctx context.Context, sessionID string) (domain.WizardSnapshot, error)
	Documents(ctx context.Context, sessionID string) ([]domain.ProcessedDocument, error)
}

// RecordExporter renders a case record for download.
type RecordExporter interface {
	Export(record *domain.CaseRecord, wizard domain.WizardSnapshot) ([]byte, error)
}
