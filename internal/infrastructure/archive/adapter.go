// Package archive durably stores uploaded originals in object storage and
// indexes them, with their per-page text, in a document catalog.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

// Catalog is the document index behind the adapter.
type Catalog interface {
	Create(ctx context.Context, doc *domain.ArchivedDocument) error
	SavePageText(ctx context.Context, documentID string, page int, text string) error
}

type Adapter struct {
	storage ports.ObjectStorage
	catalog Catalog
	now     func() time.Time
	newID   func() string
}

var _ ports.UploadAdapter = (*Adapter)(nil)

func New(storage ports.ObjectStorage, catalog Catalog) *Adapter {
	return &Adapter{storage: storage, catalog: catalog, now: time.Now, newID: uuid.NewString}
}

// Upload stores the original and returns its durable document id. A file
// already archived by the caller is indexed under its existing key.
func (a *Adapter) Upload(ctx context.Context, req ports.UploadRequest) (string, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "archive upload", errors.New("session id is required"))
	}
	id := a.newID()
	key := req.File.StorageKey
	if key == "" {
		key = ObjectKey(req.SessionID, id, req.File.Name)
		if err := a.storage.Save(ctx, key, bytes.NewReader(req.File.Content)); err != nil {
			return "", fmt.Errorf("archive original %s: %w", req.File.Name, err)
		}
	}
	doc := &domain.ArchivedDocument{
		ID:         id,
		SessionID:  req.SessionID,
		CaseID:     req.CaseID,
		Subtype:    req.Subtype,
		Filename:   req.File.Name,
		MimeType:   req.File.MimeType,
		Size:       req.File.Size(),
		SHA256:     req.File.Identity(),
		StorageKey: key,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.catalog.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("index original %s: %w", req.File.Name, err)
	}
	return id, nil
}

func (a *Adapter) SubmitPageText(ctx context.Context, documentID string, page int, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if page <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "submit page text", fmt.Errorf("page %d", page))
	}
	return a.catalog.SavePageText(ctx, documentID, page, text)
}

// ObjectKey lays originals out as session/document/filename.
func ObjectKey(sessionID, documentID, filename string) string {
	return path.Join(safeSegment(sessionID), safeSegment(documentID), safeSegment(filename))
}

func safeSegment(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
	out = strings.TrimLeft(out, ".")
	if out == "" {
		return "_"
	}
	return out
}
