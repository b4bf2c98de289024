package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"time"
)

type Subtype string

const (
	SubtypeIdentification          Subtype = "identification"
	SubtypePropertyRegistryExtract Subtype = "property_registry_extract"
	SubtypeDeed                    Subtype = "deed"
	SubtypeMarriageCertificate     Subtype = "marriage_certificate"
	SubtypeFloorPlan               Subtype = "floor_plan"
)

var allSubtypes = []Subtype{
	SubtypeIdentification,
	SubtypePropertyRegistryExtract,
	SubtypeDeed,
	SubtypeMarriageCertificate,
	SubtypeFloorPlan,
}

func (s Subtype) Valid() bool {
	for _, known := range allSubtypes {
		if s == known {
			return true
		}
	}
	return false
}

// Cacheable reports whether extraction results of this subtype may be
// memoized. Identification depends on conversation context and never is.
func (s Subtype) Cacheable() bool {
	switch s {
	case SubtypePropertyRegistryExtract, SubtypeDeed, SubtypeFloorPlan:
		return true
	default:
		return false
	}
}

// RawFile is one user upload as received from the outer surface.
type RawFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"-"`
	// StorageKey is set when the file was already archived by the caller.
	StorageKey string `json:"storage_key,omitempty"`
}

func (f RawFile) Size() int64 { return int64(len(f.Content)) }

// Identity is the content hash used as the original-file part of cache keys.
func (f RawFile) Identity() string {
	return ContentHash(f.Content)
}

func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PageImage is one page derived from a source file, or the file itself when flat.
type PageImage struct {
	Name       string `json:"name"`
	Number     int    `json:"number"`
	Total      int    `json:"total"`
	MimeType   string `json:"mime_type"`
	Content    []byte `json:"-"`
	TextLayer  string `json:"-"`
	SourceFile string `json:"source_file"`
}

func (p PageImage) Hash() string { return ContentHash(p.Content) }

// FingerprintKey identifies a memoized extraction result.
type FingerprintKey struct {
	FileIdentity string  `json:"file_identity"`
	PageName     string  `json:"page_name"`
	Subtype      Subtype `json:"subtype"`
}

func (k FingerprintKey) String() string {
	return k.FileIdentity + "|" + k.PageName + "|" + string(k.Subtype)
}

// ExtractionRequest is sent to the extraction service for one page.
type ExtractionRequest struct {
	SessionID      string
	CaseID         string
	BatchID        string
	Subtype        Subtype
	Page           PageImage
	PageIndex      int
	Record         *CaseRecord
	// UserText and LastQuestion are the conversation around the upload.
	UserText       string
	LastQuestion   string
	IncludeRawText bool
	ForceReprocess bool
}

// ExtractionResult is the immutable payload produced by one extraction call.
type ExtractionResult struct {
	Update         RecordUpdate    `json:"data"`
	RawText        string          `json:"raw_text,omitempty"`
	Wizard         json.RawMessage `json:"wizard,omitempty"`
	KnownPriorCase bool            `json:"known_prior_case,omitempty"`
}

// RecordUpdate is a partial case record as returned by the extraction service.
// Every entity stays raw until the merge engine validates it, so one malformed
// entity cannot poison the rest of the page.
type RecordUpdate struct {
	OperationType         json.RawMessage `json:"operation_type,omitempty"`
	Sellers               json.RawMessage `json:"sellers,omitempty"`
	Buyers                json.RawMessage `json:"buyers,omitempty"`
	Credits               json.RawMessage `json:"credits,omitempty"`
	Liens                 json.RawMessage `json:"liens,omitempty"`
	Property              json.RawMessage `json:"property,omitempty"`
	FolioCandidates       json.RawMessage `json:"folio_candidates,omitempty"`
	FolioSelection        json.RawMessage `json:"folio_selection,omitempty"`
	PendingDocumentIntent json.RawMessage `json:"pending_document_intent,omitempty"`
	PendingPeople         json.RawMessage `json:"pending_people,omitempty"`
}

// ProcessedDocument is the UI-facing shadow of an uploaded file.
type ProcessedDocument struct {
	ID              string         `json:"id"`
	OriginalFile    string         `json:"original_file"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Size            int64          `json:"size"`
	Subtype         Subtype        `json:"subtype"`
	Processed       bool           `json:"processed"`
	Cancelled       bool           `json:"cancelled"`
	Error           string         `json:"error,omitempty"`
	ExtractedFields map[string]any `json:"extracted_fields,omitempty"`

	DocumentID  string    `json:"document_id,omitempty"`
	PagesTotal  int       `json:"pages_total"`
	PagesDone   int       `json:"pages_done"`
	PagesFailed int       `json:"pages_failed"`
	Progress    int       `json:"progress"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d ProcessedDocument) Succeeded() bool { return d.Processed && d.Error == "" && !d.Cancelled }

func (d ProcessedDocument) Clone() ProcessedDocument {
	out := d
	out.ExtractedFields = maps.Clone(d.ExtractedFields)
	return out
}

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
	BatchAborted   BatchStatus = "aborted"
)

// BatchProgress is the completion snapshot exposed while a batch runs.
type BatchProgress struct {
	BatchID        string      `json:"batch_id"`
	Status         BatchStatus `json:"status"`
	PagesTotal     int         `json:"pages_total"`
	PagesDone      int         `json:"pages_done"`
	PagesFailed    int         `json:"pages_failed"`
	TimedOut       int         `json:"timed_out"`
	Percent        int         `json:"percent"`
	KnownPriorCase bool        `json:"known_prior_case,omitempty"`
}

// BatchReport is the outcome of one batch.
type BatchReport struct {
	BatchID   string              `json:"batch_id"`
	SessionID string              `json:"session_id"`
	Progress  BatchProgress       `json:"progress"`
	Documents []ProcessedDocument `json:"documents"`
	Record    *CaseRecord         `json:"record"`
	Wizard    WizardSnapshot      `json:"wizard"`
	Skipped   []string            `json:"skipped,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ArchivedDocument is the durable record of an uploaded original.
type ArchivedDocument struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	CaseID     string    `json:"case_id,omitempty"`
	Subtype    Subtype   `json:"subtype"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	StorageKey string    `json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}
