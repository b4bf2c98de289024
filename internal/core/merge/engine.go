package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// Source identifies the page an update came from.
type Source struct {
	DocumentName string
	Subtype      domain.Subtype
	PageNumber   int
}

// Label is the provenance string recorded on folio candidates.
func (s Source) Label() string {
	name := strings.TrimSpace(s.DocumentName)
	if name == "" {
		name = "unknown"
	}
	if s.PageNumber > 0 {
		return fmt.Sprintf("%s p%d", name, s.PageNumber)
	}
	return name
}

// Report describes what one Apply call did.
type Report struct {
	Applied []string
	Skipped []*domain.MergeSkipError
	Notes   []string
}

func (r Report) SkippedEntities() []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, s.Entity)
	}
	return out
}

// Engine folds extraction updates into a case record. It holds no record
// state; callers serialize access to the record they pass in.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Merge returns a merged copy and leaves rec untouched.
func (e *Engine) Merge(rec *domain.CaseRecord, upd domain.RecordUpdate, src Source) (*domain.CaseRecord, Report) {
	out := rec.Clone()
	if out == nil {
		out = domain.NewCaseRecord()
	}
	return out, e.Apply(out, upd, src)
}

// Apply mutates rec in place. Each entity is validated and decoded on its
// own, so a malformed entity is skipped without affecting its siblings.
// Buyers and sellers merge before credits so participants resolve against
// the parties of the same page.
func (e *Engine) Apply(rec *domain.CaseRecord, upd domain.RecordUpdate, src Source) Report {
	rec.Normalize()
	p := &pass{engine: e, rec: rec, src: src, extracted: map[string]any{}}

	p.operationType(upd.OperationType)
	p.parties(EntitySellers, upd.Sellers, &rec.Sellers)
	p.parties(EntityBuyers, upd.Buyers, &rec.Buyers)
	p.credits(upd.Credits)
	p.liens(upd.Liens)
	p.property(upd.Property)
	p.folioCandidates(upd.FolioCandidates)
	p.folioSelection(upd.FolioSelection)
	p.pendingIntent(upd.PendingDocumentIntent)
	p.pendingPeople(upd.PendingPeople)
	p.processedDocument()

	return p.report
}

type pass struct {
	engine    *Engine
	rec       *domain.CaseRecord
	src       Source
	report    Report
	extracted map[string]any
}

// decode validates raw against the entity schema and decodes it into dst.
// It returns false when the entity is absent or was skipped.
func (p *pass) decode(entity string, raw json.RawMessage, dst any) bool {
	if absent(raw) {
		return false
	}
	if err := schemas.validate(entity, raw); err != nil {
		p.skip(entity, err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		p.skip(entity, fmt.Errorf("decode: %w", err))
		return false
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err == nil {
		p.extracted[entity] = generic
	}
	return true
}

func (p *pass) applied(entity string) {
	p.report.Applied = append(p.report.Applied, entity)
}

func (p *pass) skip(entity string, err error) {
	skip := &domain.MergeSkipError{Entity: entity, Err: err}
	p.report.Skipped = append(p.report.Skipped, skip)
	p.engine.logger.Warn("merge_skip",
		"entity", entity,
		"document", p.src.DocumentName,
		"page", p.src.PageNumber,
		"error", err,
	)
}

func (p *pass) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.report.Notes = append(p.report.Notes, msg)
	p.engine.logger.Info("merge_note",
		"document", p.src.DocumentName,
		"page", p.src.PageNumber,
		"note", msg,
	)
}

func (p *pass) operationType(raw json.RawMessage) {
	var v *string
	if !p.decode(EntityOperationType, raw, &v) {
		return
	}
	switch domain.NormalizeName(text(v)) {
	case "":
		return
	case "purchase_sale", "purchase sale", "compraventa", "compra venta", "compra-venta":
		p.rec.OperationType = domain.OperationPurchaseSale
		p.applied(EntityOperationType)
	default:
		p.skip(EntityOperationType, fmt.Errorf("unsupported operation type %q", text(v)))
		delete(p.extracted, EntityOperationType)
	}
}

func (p *pass) pendingIntent(raw json.RawMessage) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	if absent(raw) {
		p.rec.PendingDocumentIntent = ""
		p.applied(EntityPendingIntent)
		return
	}
	var v *string
	if !p.decode(EntityPendingIntent, raw, &v) {
		return
	}
	p.rec.PendingDocumentIntent = text(v)
	p.applied(EntityPendingIntent)
}

func (p *pass) pendingPeople(raw json.RawMessage) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	if absent(raw) {
		p.rec.PendingPeople = nil
		p.applied(EntityPendingPeople)
		return
	}
	var v []string
	if !p.decode(EntityPendingPeople, raw, &v) {
		return
	}
	people := make([]string, 0, len(v))
	for _, name := range v {
		if name = strings.TrimSpace(name); name != "" {
			people = append(people, name)
		}
	}
	p.rec.PendingPeople = people
	p.applied(EntityPendingPeople)
}

// processedDocument records the page against its document, keyed by
// (subtype, name), accumulating the fields extracted so far.
func (p *pass) processedDocument() {
	name := strings.TrimSpace(p.src.DocumentName)
	if name == "" {
		return
	}
	key := domain.NormalizeName(name)
	for i := range p.rec.ProcessedDocuments {
		doc := &p.rec.ProcessedDocuments[i]
		if doc.Subtype == p.src.Subtype && domain.NormalizeName(doc.Name) == key {
			doc.ExtractedFields = mergeMaps(doc.ExtractedFields, p.extracted)
			return
		}
	}
	p.rec.ProcessedDocuments = append(p.rec.ProcessedDocuments, domain.ProcessedDocumentRef{
		Name:            name,
		Subtype:         p.src.Subtype,
		ExtractedFields: mergeMaps(nil, p.extracted),
	})
}

// mergeMaps deep-merges src into dst. Nil values in src never erase, and
// nested maps merge key by key.
func mergeMaps(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if incoming, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(existing, incoming)
				continue
			}
			dst[k] = mergeMaps(nil, incoming)
			continue
		}
		dst[k] = v
	}
	return dst
}

func setText(dst *string, v *string) bool {
	t := text(v)
	if t == "" || t == *dst {
		return false
	}
	*dst = t
	return true
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
