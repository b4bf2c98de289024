// Package pdfpages splits uploads into single-page units. PDFs are cut with
// pdfcpu and carry their embedded text layer; images pass through as one page.
package pdfpages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

const pdfMime = "application/pdf"

type Splitter struct {
	maxPages int
	logger   *slog.Logger
}

var _ ports.PageSplitter = (*Splitter)(nil)

// New returns a splitter. maxPages <= 0 means no limit.
func New(maxPages int, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{maxPages: maxPages, logger: logger}
}

func (s *Splitter) Split(ctx context.Context, file domain.RawFile, progress func(percent int)) ([]domain.PageImage, error) {
	if progress == nil {
		progress = func(int) {}
	}
	if len(file.Content) == 0 {
		return nil, &domain.ConversionError{Filename: file.Name, Err: errors.New("empty file")}
	}
	if !isPDF(file) {
		progress(100)
		return []domain.PageImage{{
			Name:       file.Name,
			Number:     1,
			Total:      1,
			MimeType:   mimeOf(file),
			Content:    file.Content,
			SourceFile: file.Name,
		}}, nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(file.Content), conf)
	if err != nil {
		return nil, &domain.ConversionError{Filename: file.Name, Err: fmt.Errorf("read pdf context: %w", err)}
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, &domain.ConversionError{Filename: file.Name, Err: fmt.Errorf("ensure page count: %w", err)}
	}
	total := pdfCtx.PageCount
	if total <= 0 {
		return nil, &domain.ConversionError{Filename: file.Name, Err: errors.New("pdf has no pages")}
	}
	if s.maxPages > 0 && total > s.maxPages {
		return nil, &domain.ConversionError{Filename: file.Name, Err: fmt.Errorf("%d pages exceeds limit of %d", total, s.maxPages)}
	}

	texts := s.textLayer(file)
	base := strings.TrimSuffix(file.Name, filepath.Ext(file.Name))

	pages := make([]domain.PageImage, 0, total)
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(file.Content), &buf, []string{strconv.Itoa(n)}, conf); err != nil {
			return nil, &domain.ConversionError{Filename: file.Name, Err: fmt.Errorf("extract page %d: %w", n, err)}
		}
		page := domain.PageImage{
			Name:       fmt.Sprintf("%s_page_%d.pdf", base, n),
			Number:     n,
			Total:      total,
			MimeType:   pdfMime,
			Content:    buf.Bytes(),
			SourceFile: file.Name,
		}
		if n <= len(texts) {
			page.TextLayer = texts[n-1]
		}
		pages = append(pages, page)
		progress(n * 100 / total)
	}
	return pages, nil
}

// textLayer reads the embedded text of every page. Scanned documents have
// none, so failures only degrade to empty text.
func (s *Splitter) textLayer(file domain.RawFile) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("pdf_text_layer_panic", "file", file.Name, "panic", fmt.Sprint(r))
			out = nil
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(file.Content), int64(len(file.Content)))
	if err != nil {
		s.logger.Debug("pdf_text_layer_unavailable", "file", file.Name, "error", err)
		return nil
	}
	out = make([]string, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			s.logger.Debug("pdf_page_text_failed", "file", file.Name, "page", i, "error", err)
			continue
		}
		out[i-1] = strings.TrimSpace(text)
	}
	return out
}

func isPDF(file domain.RawFile) bool {
	if strings.EqualFold(file.MimeType, pdfMime) {
		return true
	}
	if strings.EqualFold(filepath.Ext(file.Name), ".pdf") {
		return true
	}
	return bytes.HasPrefix(file.Content, []byte("%PDF-"))
}

func mimeOf(file domain.RawFile) string {
	if file.MimeType != "" {
		return file.MimeType
	}
	switch strings.ToLower(filepath.Ext(file.Name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}
