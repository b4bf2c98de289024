package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/notarial-intake/internal/config"
	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/observability/metrics"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Submitter hands batches and cancel requests to workers.
type Submitter interface {
	PublishBatch(ctx context.Context, submission ports.BatchSubmission) error
	PublishCancel(ctx context.Context, batchID string) error
}

// Dependencies of the router. Intake is required; the rest enable optional
// endpoints.
type Dependencies struct {
	Intake   ports.IntakeService
	Exporter ports.RecordExporter
	Storage  ports.ObjectStorage
	Queue    Submitter
	Events   *EventHub
	Metrics  *metrics.HTTPServerMetrics
	Checks   map[string]func(context.Context) error
	Logger   *slog.Logger
}

type Router struct {
	cfg      config.Config
	intake   ports.IntakeService
	exporter ports.RecordExporter
	storage  ports.ObjectStorage
	queue    Submitter
	events   *EventHub
	metrics  *metrics.HTTPServerMetrics
	checks   map[string]func(context.Context) error
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "api"
	}
	return &Router{
		cfg:      cfg,
		intake:   deps.Intake,
		exporter: deps.Exporter,
		storage:  deps.Storage,
		queue:    deps.Queue,
		events:   deps.Events,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/sessions/{session}/batches", rt.startBatch)
	mux.HandleFunc("POST /v1/sessions/{session}/submissions", rt.submitBatch)
	mux.HandleFunc("POST /v1/sessions/{session}/batches/{batch}/cancel", rt.cancelBatch)
	mux.HandleFunc("GET /v1/sessions/{session}/record", rt.getRecord)
	mux.HandleFunc("GET /v1/sessions/{session}/wizard", rt.getWizard)
	mux.HandleFunc("GET /v1/sessions/{session}/documents", rt.getDocuments)
	if rt.exporter != nil {
		mux.HandleFunc("GET /v1/sessions/{session}/export.xlsx", rt.exportRecord)
	}
	if rt.events != nil {
		mux.HandleFunc("GET /v1/sessions/{session}/events", rt.streamEvents)
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWaitTimeout)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRateLimited)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(rt.cfg.ServiceName, r.URL.Path)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if len(rt.checks) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "components": components})
}

func (rt *Router) startBatch(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	form, ok := rt.readBatchForm(w, r)
	if !ok {
		return
	}

	handle, err := rt.intake.StartBatch(r.Context(), ports.BatchRequest{
		SessionID:      sessionID,
		CaseID:         form.caseID,
		Files:          form.files,
		UserText:       form.text,
		LastQuestion:   form.lastQuestion,
		ForceReprocess: form.force,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordUpload(form)
	writeJSON(w, http.StatusAccepted, handle)
}

// submitBatch stores the files and queues the batch for a worker.
func (rt *Router) submitBatch(w http.ResponseWriter, r *http.Request) {
	if rt.queue == nil || rt.storage == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batch queue is not configured"})
		return
	}
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	form, ok := rt.readBatchForm(w, r)
	if !ok {
		return
	}

	submission := ports.BatchSubmission{
		SessionID:      sessionID,
		CaseID:         form.caseID,
		BatchID:        uuid.NewString(),
		UserText:       form.text,
		LastQuestion:   form.lastQuestion,
		ForceReprocess: form.force,
	}
	names := make([]string, 0, len(form.files))
	for i, f := range form.files {
		key := fmt.Sprintf("incoming/%s/%s/%02d", sessionID, submission.BatchID, i)
		if err := rt.storage.Save(r.Context(), key, bytes.NewReader(f.Content)); err != nil {
			writeError(w, fmt.Errorf("store %s: %w", f.Name, err))
			return
		}
		submission.Files = append(submission.Files, domain.RawFile{Name: f.Name, MimeType: f.MimeType, StorageKey: key})
		names = append(names, f.Name)
	}
	if err := rt.queue.PublishBatch(r.Context(), submission); err != nil {
		writeError(w, err)
		return
	}
	rt.recordUpload(form)
	rt.logger.Info("batch_submitted",
		"request_id", requestIDFromContext(r.Context()),
		"session_id", sessionID,
		"batch_id", submission.BatchID,
		"files", len(names),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":   submission.BatchID,
		"session_id": sessionID,
		"files":      names,
	})
}

// cancelBatch stops a batch running here, or asks the workers to stop it.
func (rt *Router) cancelBatch(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	batchID := strings.TrimSpace(r.PathValue("batch"))
	if batchID == "" {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "cancel batch", errors.New("batch id is required")))
		return
	}

	err = rt.intake.CancelBatch(r.Context(), sessionID, batchID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "status": "cancelled"})
	case domain.IsKind(err, domain.ErrBatchNotFound) && rt.queue != nil:
		if err := rt.queue.PublishCancel(r.Context(), batchID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID, "status": "cancel_requested"})
	default:
		writeError(w, err)
	}
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := rt.intake.Record(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) getWizard(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := rt.intake.Wizard(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) getDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := rt.intake.Documents(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []domain.ProcessedDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) exportRecord(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := rt.intake.Record(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := rt.intake.Wizard(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := rt.exporter.Export(record, snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, sessionID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) recordUpload(form *batchForm) {
	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.cfg.ServiceName, len(form.files), form.bytes)
	}
}

func sessionFromPath(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("session"))
	if !validID(id) {
		return "", domain.WrapError(domain.ErrInvalidInput, "session id", fmt.Errorf("invalid session id %q", id))
	}
	return id, nil
}

// validID accepts ids safe to embed in storage keys.
func validID(id string) bool {
	if id == "" || len(id) > 128 || strings.HasPrefix(id, ".") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
