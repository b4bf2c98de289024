package merge

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// Patch types mirror the record shape with pointer fields, so a missing or
// null field can be told apart from a present one.

type partyPatch struct {
	PartyID       *string      `json:"party_id"`
	PersonType    *string      `json:"person_type"`
	Name          *string      `json:"name"`
	TaxID         *string      `json:"tax_id"`
	NationalID    *string      `json:"national_id"`
	MaritalStatus *string      `json:"marital_status"`
	Spouse        *spousePatch `json:"spouse"`
	CompanyName   *string      `json:"company_name"`
	CompanyTaxID  *string      `json:"company_tax_id"`

	NameConfirmed          *bool `json:"name_confirmed"`
	TaxIDConfirmed         *bool `json:"tax_id_confirmed"`
	MaritalStatusConfirmed *bool `json:"marital_status_confirmed"`
	SpouseConfirmed        *bool `json:"spouse_confirmed"`
}

// confirmOnly reports a patch that carries confirmation flags and nothing
// else. It can confirm an existing party but never creates one.
func (p partyPatch) confirmOnly() bool {
	bare := p
	bare.NameConfirmed, bare.TaxIDConfirmed, bare.MaritalStatusConfirmed, bare.SpouseConfirmed = nil, nil, nil, nil
	return bare.empty() && !p.empty()
}

func (p partyPatch) empty() bool {
	return text(p.PartyID) == "" && text(p.PersonType) == "" && text(p.Name) == "" &&
		text(p.TaxID) == "" && text(p.NationalID) == "" && text(p.MaritalStatus) == "" &&
		p.Spouse.empty() && text(p.CompanyName) == "" && text(p.CompanyTaxID) == "" &&
		p.NameConfirmed == nil && p.TaxIDConfirmed == nil && p.MaritalStatusConfirmed == nil &&
		p.SpouseConfirmed == nil
}

type spousePatch struct {
	Name       *string `json:"name"`
	TaxID      *string `json:"tax_id"`
	NationalID *string `json:"national_id"`
	Confirmed  *bool   `json:"confirmed"`
}

func (s *spousePatch) empty() bool {
	return s == nil || (text(s.Name) == "" && text(s.TaxID) == "" && text(s.NationalID) == "" && s.Confirmed == nil)
}

type creditPatch struct {
	CreditID     *string            `json:"credit_id"`
	Institution  *string            `json:"institution"`
	Amount       optNumber          `json:"amount"`
	CreditType   *string            `json:"credit_type"`
	Participants []participantPatch `json:"participants"`
}

type participantPatch struct {
	PartyID *string `json:"party_id"`
	Name    *string `json:"name"`
	Role    *string `json:"role"`
}

type lienPatch struct {
	Institution           *string          `json:"institution"`
	CancellationConfirmed *domain.TriState `json:"cancellation_confirmed"`
}

type propertyPatch struct {
	FolioReal     flexString       `json:"folio_real"`
	Parcels       []flexString     `json:"parcels"`
	Address       *domain.Address  `json:"address"`
	SurfaceArea   flexString       `json:"surface_area"`
	Value         optNumber        `json:"value"`
	CadastralData map[string]any   `json:"cadastral_data"`
	HasMortgage   *domain.TriState `json:"has_mortgage"`
}

type folioCandidatePatch struct {
	Folio   flexString     `json:"folio"`
	Scope   *string        `json:"scope"`
	Attrs   map[string]any `json:"attrs"`
	Sources []string       `json:"sources"`
}

type folioSelectionPatch struct {
	SelectedFolio   flexString `json:"selected_folio"`
	SelectedScope   *string    `json:"selected_scope"`
	ConfirmedByUser *bool      `json:"confirmed_by_user"`
}

// flexString decodes a JSON string or number into its trimmed text form.
// Registry numbers arrive either way.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || string(raw) == "null" {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// optNumber is a number that may be absent. Currency-formatted strings such
// as "$1,250,000.00" are accepted; unparseable text counts as absent.
type optNumber struct {
	Set   bool
	Value float64
}

func (o *optNumber) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	*o = optNumber{}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		s = strings.NewReplacer("$", "", ",", "", " ", "", "MXN", "", "mxn", "").Replace(s)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*o = optNumber{Set: true, Value: v}
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*o = optNumber{Set: true, Value: v}
	return nil
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// absent reports whether a raw entity carries nothing: missing or null.
func absent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}
