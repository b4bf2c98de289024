package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := s.Save(ctx, "s1/doc-1/escritura.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := s.Open(ctx, "s1/doc-1/escritura.pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	s, _ := New(t.TempDir())
	if _, err := s.Open(context.Background(), "nope"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestRejectsKeysOutsideBase(t *testing.T) {
	s, _ := New(t.TempDir())
	for _, key := range []string{"../escape", "/etc/passwd", "", "a/../../b"} {
		if err := s.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", key, err)
		}
	}
}
