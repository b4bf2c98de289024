package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

type fakeStorage struct {
	objects map[string][]byte
	err     error
}

func (f *fakeStorage) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, _ := io.ReadAll(data)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = raw
	return nil
}

func (f *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[key])), nil
}

type fakeCatalog struct {
	docs  []*domain.ArchivedDocument
	texts map[string]string
}

func (f *fakeCatalog) Create(_ context.Context, doc *domain.ArchivedDocument) error {
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeCatalog) SavePageText(_ context.Context, documentID string, page int, text string) error {
	if f.texts == nil {
		f.texts = map[string]string{}
	}
	f.texts[documentID] = text
	return nil
}

func newAdapter(storage *fakeStorage, catalog *fakeCatalog) *Adapter {
	a := New(storage, catalog)
	a.newID = func() string { return "doc-1" }
	a.now = func() time.Time { return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) }
	return a
}

func TestUploadStoresAndIndexes(t *testing.T) {
	storage, catalog := &fakeStorage{}, &fakeCatalog{}
	a := newAdapter(storage, catalog)

	id, err := a.Upload(context.Background(), ports.UploadRequest{
		SessionID: "s1",
		CaseID:    "c1",
		Subtype:   domain.SubtypeDeed,
		File:      domain.RawFile{Name: "Escritura 2019.pdf", MimeType: "application/pdf", Content: []byte("%PDF")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != "doc-1" {
		t.Fatalf("unexpected id %s", id)
	}
	if _, ok := storage.objects["s1/doc-1/Escritura_2019.pdf"]; !ok {
		t.Fatalf("expected sanitized object key, have %v", storage.objects)
	}
	doc := catalog.docs[0]
	if doc.SHA256 != domain.ContentHash([]byte("%PDF")) || doc.Size != 4 || doc.CaseID != "c1" {
		t.Fatalf("unexpected catalog entry: %+v", doc)
	}
}

func TestUploadReusesStorageKey(t *testing.T) {
	storage, catalog := &fakeStorage{err: errors.New("must not be called")}, &fakeCatalog{}
	a := newAdapter(storage, catalog)
	_, err := a.Upload(context.Background(), ports.UploadRequest{
		SessionID: "s1",
		File:      domain.RawFile{Name: "ine.jpg", Content: []byte("jpg"), StorageKey: "incoming/ine.jpg"},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if catalog.docs[0].StorageKey != "incoming/ine.jpg" {
		t.Fatalf("expected existing key indexed, got %s", catalog.docs[0].StorageKey)
	}
}

func TestSubmitPageTextSkipsBlank(t *testing.T) {
	catalog := &fakeCatalog{}
	a := newAdapter(&fakeStorage{}, catalog)
	if err := a.SubmitPageText(context.Background(), "doc-1", 1, "   "); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(catalog.texts) != 0 {
		t.Fatalf("expected blank text ignored")
	}
	if err := a.SubmitPageText(context.Background(), "doc-1", 0, "texto"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid page rejected, got %v", err)
	}
}

func TestObjectKeyCannotEscape(t *testing.T) {
	if got := ObjectKey("../s1", "d/1", "..\\x.pdf"); got != "_s1/d_1/_x.pdf" {
		t.Fatalf("unexpected key %q", got)
	}
}
