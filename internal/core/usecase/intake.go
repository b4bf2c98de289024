package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/merge"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/core/wizard"
)

type IntakeConfig struct {
	ExtractionTimeout   time.Duration
	PersistDebounce     time.Duration
	IdentificationLimit int64
	DocumentLimit       int64
	IncludeRawText      bool
}

// IntakeDependencies lists the collaborators of the intake pipeline. Cache,
// CacheChecker, Uploads, Storage, Status and Metrics are optional.
type IntakeDependencies struct {
	Splitter     ports.PageSplitter
	Classifier   ports.TypeClassifier
	Extractor    ports.ExtractionClient
	Sessions     ports.SessionStore
	Cache        ports.FingerprintStore
	CacheChecker ports.CacheChecker
	Uploads      ports.UploadAdapter
	Storage      ports.ObjectStorage
	Status       ports.StatusPublisher
	Metrics      ports.PipelineMetrics
	Logger       *slog.Logger
}

type IntakeUseCase struct {
	deps   IntakeDependencies
	cfg    IntakeConfig
	engine *merge.Engine
	lanes  []Lane
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	batches  map[string]*batch
}

var _ ports.IntakeService = (*IntakeUseCase)(nil)

func NewIntakeUseCase(deps IntakeDependencies, cfg IntakeConfig) *IntakeUseCase {
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 90 * time.Second
	}
	if cfg.PersistDebounce < 0 {
		cfg.PersistDebounce = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &IntakeUseCase{
		deps:     deps,
		cfg:      cfg,
		engine:   merge.NewEngine(logger),
		lanes:    DefaultLanes(cfg.IdentificationLimit, cfg.DocumentLimit),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		batches:  make(map[string]*batch),
	}
}

// session holds the canonical record of one intake conversation. mu guards
// record, snapshot and documents; run serializes batches so a new batch sees
// the result of the previous one.
type session struct {
	id string

	run sync.Mutex

	mu        sync.Mutex
	record    *domain.CaseRecord
	snapshot  domain.WizardSnapshot
	documents []*domain.ProcessedDocument
	active    int
	saver     *debouncedSaver
}

func (uc *IntakeUseCase) session(ctx context.Context, sessionID string) (*session, error) {
	uc.mu.Lock()
	s, ok := uc.sessions[sessionID]
	uc.mu.Unlock()
	if ok {
		return s, nil
	}

	record, err := uc.loadRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if existing, ok := uc.sessions[sessionID]; ok {
		return existing, nil
	}
	s = &session{id: sessionID, record: record, snapshot: wizard.Compute(record)}
	s.saver = newDebouncedSaver(uc.cfg.PersistDebounce, func(ctx context.Context) error {
		s.mu.Lock()
		snap := s.record.Clone()
		s.mu.Unlock()
		return uc.deps.Sessions.Save(ctx, sessionID, snap)
	}, func(err error) {
		uc.logger.Error("record_persist_failed", "session_id", sessionID, "error", err)
	})
	uc.sessions[sessionID] = s
	return s, nil
}

func (uc *IntakeUseCase) loadRecord(ctx context.Context, sessionID string) (*domain.CaseRecord, error) {
	record, err := uc.deps.Sessions.Load(ctx, sessionID)
	switch {
	case err == nil && record != nil:
		record.Normalize()
		return record, nil
	case err == nil, errors.Is(err, domain.ErrSessionNotFound):
		return domain.NewCaseRecord(), nil
	default:
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
}

// refresh reloads an idle session from the store so records written by
// another process are visible. Changes not yet saved keep the in-memory
// record.
func (uc *IntakeUseCase) refresh(ctx context.Context, s *session) error {
	s.mu.Lock()
	idle := s.active == 0
	s.mu.Unlock()
	if !idle || s.saver.Pending() {
		return nil
	}
	record, err := uc.loadRecord(ctx, s.id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 && !s.saver.Pending() {
		s.record = record
		s.snapshot = wizard.Compute(record)
	}
	return nil
}

func (uc *IntakeUseCase) StartBatch(ctx context.Context, req ports.BatchRequest) (*ports.BatchHandle, error) {
	s, b, err := uc.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	handle := &ports.BatchHandle{BatchID: b.id, SessionID: s.id, Documents: b.documentSnapshot(s)}
	go func() {
		if _, err := uc.process(b.ctx, s, b); err != nil {
			uc.logger.Warn("batch_finished_with_error", "session_id", s.id, "batch_id", b.id, "error", err)
		}
	}()
	return handle, nil
}

func (uc *IntakeUseCase) RunBatch(ctx context.Context, req ports.BatchRequest) (*domain.BatchReport, error) {
	s, b, err := uc.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return uc.process(b.ctx, s, b)
}

func (uc *IntakeUseCase) RunSubmission(ctx context.Context, sub ports.BatchSubmission) (*domain.BatchReport, error) {
	files := make([]domain.RawFile, 0, len(sub.Files))
	for _, f := range sub.Files {
		if len(f.Content) == 0 && f.StorageKey != "" {
			content, err := uc.readStored(ctx, f.StorageKey)
			if err != nil {
				return nil, err
			}
			f.Content = content
		}
		files = append(files, f)
	}
	return uc.RunBatch(ctx, ports.BatchRequest{
		SessionID:      sub.SessionID,
		CaseID:         sub.CaseID,
		BatchID:        sub.BatchID,
		Files:          files,
		UserText:       sub.UserText,
		LastQuestion:   sub.LastQuestion,
		ForceReprocess: sub.ForceReprocess,
	})
}

func (uc *IntakeUseCase) readStored(ctx context.Context, key string) ([]byte, error) {
	if uc.deps.Storage == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read stored file", fmt.Errorf("no object storage for key %s", key))
	}
	rc, err := uc.deps.Storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open stored file %s: %w", key, err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored file %s: %w", key, err)
	}
	return content, nil
}

// CancelBatch marks every unprocessed document of the batch cancelled and
// aborts its in-flight extraction calls. Finished batches are not found.
func (uc *IntakeUseCase) CancelBatch(ctx context.Context, sessionID, batchID string) error {
	uc.mu.Lock()
	b, ok := uc.batches[batchID]
	var s *session
	if ok {
		s = uc.sessions[b.sessionID]
	}
	uc.mu.Unlock()
	if !ok || (sessionID != "" && b.sessionID != sessionID) {
		return domain.WrapError(domain.ErrBatchNotFound, "cancel batch", fmt.Errorf("batch %s", batchID))
	}

	s.mu.Lock()
	changed := b.markCancelled(uc.now())
	s.mu.Unlock()
	b.cancel(domain.ErrBatchCancelled)

	uc.logger.Info("batch_cancel_requested", "session_id", b.sessionID, "batch_id", batchID, "documents", len(changed))
	for _, doc := range changed {
		uc.publish(ctx, ports.StatusEvent{SessionID: b.sessionID, BatchID: batchID, Document: &doc})
	}
	return nil
}

func (uc *IntakeUseCase) Record(ctx context.Context, sessionID string) (*domain.CaseRecord, error) {
	s, err := uc.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := uc.refresh(ctx, s); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone(), nil
}

func (uc *IntakeUseCase) Wizard(ctx context.Context, sessionID string) (domain.WizardSnapshot, error) {
	s, err := uc.session(ctx, sessionID)
	if err != nil {
		return domain.WizardSnapshot{}, err
	}
	if err := uc.refresh(ctx, s); err != nil {
		return domain.WizardSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

func (uc *IntakeUseCase) Documents(ctx context.Context, sessionID string) ([]domain.ProcessedDocument, error) {
	s, err := uc.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessedDocument, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d.Clone())
	}
	return out, nil
}

// prepare validates the request and registers the batch and its documents
// so they are visible before processing starts. A detached batch outlives
// ctx and stops only through CancelBatch.
func (uc *IntakeUseCase) prepare(ctx context.Context, req ports.BatchRequest, detached bool) (*session, *batch, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "start batch", errors.New("session id is required"))
	}
	if len(req.Files) == 0 {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "start batch", errors.New("at least one file is required"))
	}
	for _, f := range req.Files {
		if strings.TrimSpace(f.Name) == "" || len(f.Content) == 0 {
			return nil, nil, domain.WrapError(domain.ErrInvalidInput, "start batch", fmt.Errorf("file %q is empty", f.Name))
		}
	}

	s, err := uc.session(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}

	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}
	parent := ctx
	if detached {
		parent = context.WithoutCancel(ctx)
	}
	bctx, cancel := context.WithCancelCause(parent)
	b := &batch{
		id:        batchID,
		sessionID: s.id,
		req:       req,
		ctx:       bctx,
		cancel:    cancel,
		started:   uc.now(),
	}

	uc.mu.Lock()
	if _, dup := uc.batches[batchID]; dup {
		uc.mu.Unlock()
		cancel(nil)
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "start batch", fmt.Errorf("batch %s already exists", batchID))
	}
	uc.batches[batchID] = b
	uc.mu.Unlock()

	s.mu.Lock()
	for _, f := range req.Files {
		doc := &domain.ProcessedDocument{
			ID:           uuid.NewString(),
			OriginalFile: f.Name,
			Name:         f.Name,
			Type:         f.MimeType,
			Size:         f.Size(),
			Subtype:      uc.deps.Classifier.Classify(f, req.LastQuestion),
			UpdatedAt:    uc.now(),
		}
		s.documents = append(s.documents, doc)
		b.docs = append(b.docs, &docState{doc: doc, file: f, pendingText: map[int]string{}})
	}
	s.active++
	s.mu.Unlock()

	return s, b, nil
}

func (uc *IntakeUseCase) publish(ctx context.Context, event ports.StatusEvent) {
	if uc.deps.Status == nil {
		return
	}
	if event.At.IsZero() {
		event.At = uc.now()
	}
	if err := uc.deps.Status.PublishStatus(context.WithoutCancel(ctx), event); err != nil {
		uc.logger.Warn("status_publish_failed", "session_id", event.SessionID, "batch_id", event.BatchID, "error", err)
	}
}

type noopMetrics struct{}

func (noopMetrics) StartPage() {}

func (noopMetrics) FinishPage(domain.Subtype, string, time.Duration) {}

func (noopMetrics) CacheHit(domain.Subtype) {}

func (noopMetrics) MergeSkip(string) {}

func (noopMetrics) FinishBatch(domain.BatchStatus, time.Duration) {}
