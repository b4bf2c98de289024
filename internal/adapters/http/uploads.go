package httpadapter

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

const multipartMemory = 32 << 20

type batchForm struct {
	files        []domain.RawFile
	caseID       string
	text         string
	lastQuestion string
	force        bool
	bytes        int64
}

// readBatchForm parses a multipart batch upload. On failure it writes the
// response itself and returns false.
func (rt *Router) readBatchForm(w http.ResponseWriter, r *http.Request) (*batchForm, bool) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds %d bytes", rt.cfg.MaxUploadBytes),
			})
			return nil, false
		}
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", err))
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	headers := slices.Concat(r.MultipartForm.File["file"], r.MultipartForm.File["files"])
	if len(headers) == 0 {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New("multipart field 'file' is required")))
		return nil, false
	}
	if limit := rt.cfg.MaxFilesPerBatch; limit > 0 && len(headers) > limit {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", fmt.Errorf("%d files exceeds limit of %d", len(headers), limit)))
		return nil, false
	}

	form := &batchForm{
		caseID:       strings.TrimSpace(r.FormValue("case_id")),
		text:         r.FormValue("text"),
		lastQuestion: r.FormValue("last_question"),
	}
	if raw := strings.TrimSpace(r.FormValue("force_reprocess")); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", fmt.Errorf("force_reprocess: %w", err)))
			return nil, false
		}
		form.force = force
	}

	for _, fh := range headers {
		file, err := readPart(fh)
		if err != nil {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "read upload", err))
			return nil, false
		}
		form.files = append(form.files, file)
		form.bytes += file.Size()
	}
	return form, true
}

func readPart(fh *multipart.FileHeader) (domain.RawFile, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return domain.RawFile{
		Name:     filepath.Base(fh.Filename),
		MimeType: fh.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}
