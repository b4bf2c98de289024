package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// PageSplitter turns one upload into ordered page units.
type PageSplitter interface {
	Split(ctx context.Context, file domain.RawFile, progress func(percent int)) ([]domain.PageImage, error)
}

// TypeClassifier assigns a document subtype to an original file.
type TypeClassifier interface {
	Classify(file domain.RawFile, lastQuestion string) domain.Subtype
}

// FingerprintStore memoizes successful extraction results.
type FingerprintStore interface {
	Get(ctx context.Context, key domain.FingerprintKey) (*domain.ExtractionResult, bool, error)
	Put(ctx context.Context, key domain.FingerprintKey, result *domain.ExtractionResult) error
}

// ExtractionClient calls the external extraction service for one page.
type ExtractionClient interface {
	Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error)
}

// CacheChecker asks the service which page hashes it has already processed.
// The returned map goes from hash to scope ("global" or "session").
type CacheChecker interface {
	CheckProcessed(ctx context.Context, sessionID string, hashes []string) (map[string]string, error)
}

type UploadRequest struct {
	SessionID string
	CaseID    string
	Subtype   domain.Subtype
	File      domain.RawFile
}

// UploadAdapter durably archives originals and their per-page text.
type UploadAdapter interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
	SubmitPageText(ctx context.Context, documentID string, page int, text string) error
}

// SessionStore persists the canonical record per session.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*domain.CaseRecord, error)
	Save(ctx context.Context, sessionID string, record *domain.CaseRecord) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type StatusEvent struct {
	SessionID string                    `json:"session_id"`
	BatchID   string                    `json:"batch_id"`
	Document  *domain.ProcessedDocument `json:"document,omitempty"`
	Progress  *domain.BatchProgress     `json:"progress,omitempty"`
	Wizard    *domain.WizardSnapshot    `json:"wizard,omitempty"`
	At        time.Time                 `json:"at"`
}

// StatusPublisher fans processing status out to interested front ends.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event StatusEvent) error
}

// BatchSubmission is a batch whose files are already in object storage.
type BatchSubmission struct {
	SessionID      string           `json:"session_id"`
	CaseID         string           `json:"case_id,omitempty"`
	BatchID        string           `json:"batch_id"`
	Files          []domain.RawFile `json:"files"`
	UserText       string           `json:"user_text,omitempty"`
	LastQuestion   string           `json:"last_question,omitempty"`
	ForceReprocess bool             `json:"force_reprocess,omitempty"`
}

// MessageQueue transports batch submissions and cancellations.
type MessageQueue interface {
	PublishBatch(ctx context.Context, submission BatchSubmission) error
	SubscribeBatches(ctx context.Context, handler func(context.Context, BatchSubmission) error) error
	PublishCancel(ctx context.Context, batchID string) error
	SubscribeCancels(ctx context.Context, handler func(batchID string)) error
}

// PipelineMetrics records pipeline activity.
type PipelineMetrics interface {
	StartPage()
	FinishPage(subtype domain.Subtype, status string, duration time.Duration)
	CacheHit(subtype domain.Subtype)
	MergeSkip(entity string)
	FinishBatch(status domain.BatchStatus, duration time.Duration)
}
