package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/notarial-intake/internal/config"
	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

type fakeIntake struct {
	mu        sync.Mutex
	started   []ports.BatchRequest
	startErr  error
	cancelErr error
	cancelled []string
	record    *domain.CaseRecord
	recordErr error
}

func (f *fakeIntake) StartBatch(_ context.Context, req ports.BatchRequest) (*ports.BatchHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	docs := make([]domain.ProcessedDocument, 0, len(req.Files))
	for _, file := range req.Files {
		docs = append(docs, domain.ProcessedDocument{Name: file.Name, OriginalFile: file.Name})
	}
	return &ports.BatchHandle{BatchID: "b-1", SessionID: req.SessionID, Documents: docs}, nil
}

func (f *fakeIntake) RunBatch(context.Context, ports.BatchRequest) (*domain.BatchReport, error) {
	return nil, errors.New("not used")
}

func (f *fakeIntake) RunSubmission(context.Context, ports.BatchSubmission) (*domain.BatchReport, error) {
	return nil, errors.New("not used")
}

func (f *fakeIntake) CancelBatch(_ context.Context, _ string, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, batchID)
	return nil
}

func (f *fakeIntake) Record(context.Context, string) (*domain.CaseRecord, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if f.record == nil {
		return domain.NewCaseRecord(), nil
	}
	return f.record, nil
}

func (f *fakeIntake) Wizard(context.Context, string) (domain.WizardSnapshot, error) {
	return domain.WizardSnapshot{CurrentStep: domain.StepPaymentMethod}, f.recordErr
}

func (f *fakeIntake) Documents(context.Context, string) ([]domain.ProcessedDocument, error) {
	return nil, f.recordErr
}

type fakeQueue struct {
	batches []ports.BatchSubmission
	cancels []string
}

func (f *fakeQueue) PublishBatch(_ context.Context, s ports.BatchSubmission) error {
	f.batches = append(f.batches, s)
	return nil
}

func (f *fakeQueue) PublishCancel(_ context.Context, batchID string) error {
	f.cancels = append(f.cancels, batchID)
	return nil
}

type memStorage struct {
	objects map[string][]byte
}

func (m *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = raw
	return nil
}

func (m *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.objects[key])), nil
}

type fakeExporter struct{}

func (fakeExporter) Export(*domain.CaseRecord, domain.WizardSnapshot) ([]byte, error) {
	return []byte("PK-xlsx"), nil
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func newTestRouter(intake *fakeIntake, deps Dependencies) http.Handler {
	deps.Intake = intake
	return NewRouter(config.Config{MaxUploadBytes: 1 << 20, MaxFilesPerBatch: 3}, deps).Handler()
}

func TestStartBatchAccepted(t *testing.T) {
	intake := &fakeIntake{}
	handler := newTestRouter(intake, Dependencies{})

	body, contentType := multipartBody(t,
		map[string]string{"case_id": "case-9", "last_question": "¿Nombre del comprador?", "force_reprocess": "true"},
		map[string]string{"ine.jpg": "jpg-bytes"},
	)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var handle ports.BatchHandle
	if err := json.Unmarshal(res.Body.Bytes(), &handle); err != nil {
		t.Fatalf("decode handle: %v", err)
	}
	if handle.BatchID != "b-1" || len(handle.Documents) != 1 {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	got := intake.started[0]
	if got.SessionID != "s1" || got.CaseID != "case-9" || !got.ForceReprocess || got.LastQuestion != "¿Nombre del comprador?" {
		t.Fatalf("unexpected batch request: %+v", got)
	}
	if string(got.Files[0].Content) != "jpg-bytes" {
		t.Fatalf("expected file content forwarded")
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestStartBatchRequiresFile(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	body, contentType := multipartBody(t, map[string]string{"text": "hola"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestStartBatchRejectsTooManyFiles(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	body, contentType := multipartBody(t, nil, map[string]string{"a.pdf": "a", "b.pdf": "b", "c.pdf": "c", "d.pdf": "d"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestStartBatchRejectsOversizedUpload(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	body, contentType := multipartBody(t, nil, map[string]string{"big.pdf": strings.Repeat("x", 2<<20)})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestInvalidSessionIDIs400(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/..hidden/record", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestSubmitBatchStoresFilesAndQueues(t *testing.T) {
	queue, storage := &fakeQueue{}, &memStorage{}
	handler := newTestRouter(&fakeIntake{}, Dependencies{Queue: queue, Storage: storage})

	body, contentType := multipartBody(t, map[string]string{"text": "adjunto escritura"}, map[string]string{"escritura.pdf": "%PDF-1.4"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(queue.batches) != 1 {
		t.Fatalf("expected one submission, got %d", len(queue.batches))
	}
	sub := queue.batches[0]
	if sub.SessionID != "s1" || sub.UserText != "adjunto escritura" || sub.BatchID == "" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	f := sub.Files[0]
	if len(f.Content) != 0 || f.Name != "escritura.pdf" {
		t.Fatalf("expected content to travel by storage key, got %+v", f)
	}
	if string(storage.objects[f.StorageKey]) != "%PDF-1.4" {
		t.Fatalf("expected stored object under %s", f.StorageKey)
	}
}

func TestSubmitBatchWithoutQueueIs503(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/submissions", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestCancelBatchLocalAndRemote(t *testing.T) {
	intake := &fakeIntake{}
	queue := &fakeQueue{}
	handler := newTestRouter(intake, Dependencies{Queue: queue})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches/b-1/cancel", nil))
	if res.Code != http.StatusOK || intake.cancelled[0] != "b-1" {
		t.Fatalf("expected local cancel, got %d %v", res.Code, intake.cancelled)
	}

	intake.cancelErr = domain.WrapError(domain.ErrBatchNotFound, "cancel batch", errors.New("b-2"))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches/b-2/cancel", nil))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for remote cancel, got %d", res.Code)
	}
	if len(queue.cancels) != 1 || queue.cancels[0] != "b-2" {
		t.Fatalf("expected cancel fan-out, got %v", queue.cancels)
	}
}

func TestCancelUnknownBatchWithoutQueueIs404(t *testing.T) {
	intake := &fakeIntake{cancelErr: domain.WrapError(domain.ErrBatchNotFound, "cancel batch", errors.New("b-2"))}
	handler := newTestRouter(intake, Dependencies{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/batches/b-2/cancel", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetRecordMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{domain.WrapError(domain.ErrSessionNotFound, "load", errors.New("s1")), http.StatusNotFound},
		{domain.WrapError(domain.ErrTemporary, "load", errors.New("db down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestRouter(&fakeIntake{recordErr: tc.err}, Dependencies{})
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/record", nil))
		if res.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	handler := newTestRouter(&fakeIntake{recordErr: errors.New("dsn=postgres://secret")}, Dependencies{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/wizard", nil))
	if strings.Contains(res.Body.String(), "secret") {
		t.Fatalf("expected internal error detail hidden, got %s", res.Body.String())
	}
}

func TestDocumentsNeverNull(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/documents", nil))
	if !strings.Contains(res.Body.String(), `"documents":[]`) {
		t.Fatalf("expected empty documents array, got %s", res.Body.String())
	}
}

func TestExportXLSX(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{Exporter: fakeExporter{}})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/export.xlsx", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), `filename="s1.xlsx"`) {
		t.Fatalf("unexpected disposition %q", res.Header().Get("Content-Disposition"))
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	handler := newTestRouter(&fakeIntake{}, Dependencies{Checks: map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("nats not connected") },
	}})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Components["postgres"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}
