package domain

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

type OperationType string

const OperationPurchaseSale OperationType = "purchase_sale"

type PersonType string

const (
	PersonNatural PersonType = "natural"
	PersonLegal   PersonType = "legal"
)

type ParticipantRole string

const (
	RolePrincipal   ParticipantRole = "principal"
	RoleCoPrincipal ParticipantRole = "co_principal"
)

// CaseRecord is the canonical aggregate of one notarial case. Only the merge
// engine mutates it.
type CaseRecord struct {
	OperationType      OperationType         `json:"operation_type"`
	Sellers            []PartyRecord         `json:"sellers"`
	Buyers             []PartyRecord         `json:"buyers"`
	Credits            *[]CreditRecord       `json:"credits"`
	Liens              []LienRecord          `json:"liens"`
	Property           PropertyRecord        `json:"property"`
	FolioCandidates    []FolioCandidate      `json:"folio_candidates"`
	FolioSelection     *FolioSelection       `json:"folio_selection,omitempty"`
	ProcessedDocuments []ProcessedDocumentRef `json:"processed_documents"`

	// Workflow hints, not business data.
	PendingDocumentIntent string   `json:"pending_document_intent,omitempty"`
	PendingPeople         []string `json:"pending_people,omitempty"`
}

func NewCaseRecord() *CaseRecord {
	return &CaseRecord{
		OperationType:      OperationPurchaseSale,
		Sellers:            []PartyRecord{},
		Buyers:             []PartyRecord{},
		Liens:              []LienRecord{},
		FolioCandidates:    []FolioCandidate{},
		ProcessedDocuments: []ProcessedDocumentRef{},
	}
}

// CreditsUndetermined reports whether the payment method is still unknown.
func (r *CaseRecord) CreditsUndetermined() bool { return r.Credits == nil }

// PaysCash reports a confirmed cash payment.
func (r *CaseRecord) PaysCash() bool { return r.Credits != nil && len(*r.Credits) == 0 }

func (r *CaseRecord) CreditList() []CreditRecord {
	if r.Credits == nil {
		return nil
	}
	return *r.Credits
}

func (r *CaseRecord) Clone() *CaseRecord {
	if r == nil {
		return nil
	}
	out := &CaseRecord{
		OperationType:         r.OperationType,
		Sellers:               cloneParties(r.Sellers),
		Buyers:                cloneParties(r.Buyers),
		Liens:                 slices.Clone(r.Liens),
		Property:              r.Property.Clone(),
		PendingDocumentIntent: r.PendingDocumentIntent,
		PendingPeople:         slices.Clone(r.PendingPeople),
	}
	if r.Credits != nil {
		credits := make([]CreditRecord, len(*r.Credits))
		for i, c := range *r.Credits {
			credits[i] = c.Clone()
		}
		out.Credits = &credits
	}
	out.FolioCandidates = make([]FolioCandidate, len(r.FolioCandidates))
	for i, c := range r.FolioCandidates {
		out.FolioCandidates[i] = c.Clone()
	}
	if r.FolioSelection != nil {
		sel := *r.FolioSelection
		out.FolioSelection = &sel
	}
	out.ProcessedDocuments = make([]ProcessedDocumentRef, len(r.ProcessedDocuments))
	for i, d := range r.ProcessedDocuments {
		out.ProcessedDocuments[i] = d.Clone()
	}
	return out
}

// Normalize fills nil collections so the JSON shape is stable after a
// resume from persisted state.
func (r *CaseRecord) Normalize() {
	if r.OperationType == "" {
		r.OperationType = OperationPurchaseSale
	}
	if r.Sellers == nil {
		r.Sellers = []PartyRecord{}
	}
	if r.Buyers == nil {
		r.Buyers = []PartyRecord{}
	}
	if r.Liens == nil {
		r.Liens = []LienRecord{}
	}
	if r.FolioCandidates == nil {
		r.FolioCandidates = []FolioCandidate{}
	}
	if r.ProcessedDocuments == nil {
		r.ProcessedDocuments = []ProcessedDocumentRef{}
	}
}

type PartyRecord struct {
	PartyID    string     `json:"party_id,omitempty"`
	PersonType PersonType `json:"person_type,omitempty"`

	Name          string        `json:"name,omitempty"`
	TaxID         string        `json:"tax_id,omitempty"`
	NationalID    string        `json:"national_id,omitempty"`
	MaritalStatus string        `json:"marital_status,omitempty"`
	Spouse        *SpouseRecord `json:"spouse,omitempty"`

	CompanyName  string `json:"company_name,omitempty"`
	CompanyTaxID string `json:"company_tax_id,omitempty"`

	NameConfirmed          *bool `json:"name_confirmed,omitempty"`
	TaxIDConfirmed         *bool `json:"tax_id_confirmed,omitempty"`
	MaritalStatusConfirmed *bool `json:"marital_status_confirmed,omitempty"`
	SpouseConfirmed        *bool `json:"spouse_confirmed,omitempty"`
}

// DisplayName is the person or company name, whichever applies.
func (p PartyRecord) DisplayName() string {
	if p.PersonType == PersonLegal && p.CompanyName != "" {
		return p.CompanyName
	}
	if p.Name != "" {
		return p.Name
	}
	return p.CompanyName
}

// EffectiveTaxID is the tax id that identifies the party for its person type.
func (p PartyRecord) EffectiveTaxID() string {
	if p.PersonType == PersonLegal && p.CompanyTaxID != "" {
		return p.CompanyTaxID
	}
	if p.TaxID != "" {
		return p.TaxID
	}
	return p.CompanyTaxID
}

func (p PartyRecord) Clone() PartyRecord {
	out := p
	if p.Spouse != nil {
		sp := p.Spouse.Clone()
		out.Spouse = &sp
	}
	out.NameConfirmed = cloneBool(p.NameConfirmed)
	out.TaxIDConfirmed = cloneBool(p.TaxIDConfirmed)
	out.MaritalStatusConfirmed = cloneBool(p.MaritalStatusConfirmed)
	out.SpouseConfirmed = cloneBool(p.SpouseConfirmed)
	return out
}

// SpouseRecord is embedded in its party. A spouse that also appears as a
// standalone party is reconciled by lookup, never by shared ownership.
type SpouseRecord struct {
	Name       string `json:"name,omitempty"`
	TaxID      string `json:"tax_id,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	Confirmed  *bool  `json:"confirmed,omitempty"`
}

func (s SpouseRecord) Clone() SpouseRecord {
	out := s
	out.Confirmed = cloneBool(s.Confirmed)
	return out
}

type CreditRecord struct {
	CreditID     string              `json:"credit_id,omitempty"`
	Institution  string              `json:"institution,omitempty"`
	Amount       float64             `json:"amount,omitempty"`
	CreditType   string              `json:"credit_type,omitempty"`
	Participants []CreditParticipant `json:"participants,omitempty"`
}

func (c CreditRecord) Clone() CreditRecord {
	out := c
	out.Participants = slices.Clone(c.Participants)
	return out
}

type CreditParticipant struct {
	PartyID string          `json:"party_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Role    ParticipantRole `json:"role,omitempty"`
}

type LienRecord struct {
	Institution           string   `json:"institution,omitempty"`
	CancellationConfirmed TriState `json:"cancellation_confirmed"`
}

type PropertyRecord struct {
	FolioReal     string         `json:"folio_real,omitempty"`
	Parcels       []string       `json:"parcels,omitempty"`
	Address       *Address       `json:"address,omitempty"`
	SurfaceArea   string         `json:"surface_area,omitempty"`
	Value         float64        `json:"value,omitempty"`
	CadastralData map[string]any `json:"cadastral_data,omitempty"`
	HasMortgage   TriState       `json:"has_mortgage"`
}

func (p PropertyRecord) Clone() PropertyRecord {
	out := p
	out.Parcels = slices.Clone(p.Parcels)
	if p.Address != nil {
		addr := *p.Address
		out.Address = &addr
	}
	out.CadastralData = deepCloneMap(p.CadastralData)
	return out
}

// Empty reports whether nothing at all is known about the property.
func (p PropertyRecord) Empty() bool {
	return p.FolioReal == "" && len(p.Parcels) == 0 && p.Address.Empty() &&
		p.SurfaceArea == "" && p.Value == 0 && len(p.CadastralData) == 0 && !p.HasMortgage.Known()
}

// Address accepts either a structured object or a free-text string on decode.
type Address struct {
	Street         string `json:"street,omitempty"`
	ExteriorNumber string `json:"exterior_number,omitempty"`
	InteriorNumber string `json:"interior_number,omitempty"`
	Neighborhood   string `json:"neighborhood,omitempty"`
	Municipality   string `json:"municipality,omitempty"`
	State          string `json:"state,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	FreeText       string `json:"free_text,omitempty"`
}

func (a *Address) Empty() bool {
	return a == nil || *a == Address{}
}

func (a *Address) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		*a = Address{FreeText: strings.TrimSpace(text)}
		return nil
	}
	type plain Address
	var out plain
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*a = Address(out)
	return nil
}

type FolioCandidate struct {
	Folio   string         `json:"folio"`
	Scope   string         `json:"scope,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Sources []string       `json:"sources,omitempty"`
}

func (c FolioCandidate) Clone() FolioCandidate {
	out := c
	out.Attrs = deepCloneMap(c.Attrs)
	out.Sources = slices.Clone(c.Sources)
	return out
}

type FolioSelection struct {
	SelectedFolio   string `json:"selected_folio"`
	SelectedScope   string `json:"selected_scope,omitempty"`
	ConfirmedByUser bool   `json:"confirmed_by_user"`
}

// ProcessedDocumentRef is the record-side trace of a processed upload.
type ProcessedDocumentRef struct {
	Name            string         `json:"name"`
	Subtype         Subtype        `json:"subtype"`
	ExtractedFields map[string]any `json:"extracted_fields,omitempty"`
}

func (d ProcessedDocumentRef) Clone() ProcessedDocumentRef {
	out := d
	out.ExtractedFields = deepCloneMap(d.ExtractedFields)
	return out
}

func cloneParties(in []PartyRecord) []PartyRecord {
	out := make([]PartyRecord, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func deepCloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCloneValue(item)
		}
		return out
	default:
		return v
	}
}

// BoolPtr is a convenience for confirmation flags.
func BoolPtr(v bool) *bool { return &v }
