package merge

import (
	"encoding/json"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// parties merges a seller or buyer list. An incoming party matches an
// existing one by party id, else by position; an unmatched party is appended.
func (p *pass) parties(entity string, raw json.RawMessage, list *[]domain.PartyRecord) {
	var incoming []partyPatch
	if !p.decode(entity, raw, &incoming) {
		return
	}
	existing := *list
	used := make(map[int]bool, len(existing))
	changed := false
	for pos, patch := range incoming {
		if patch.empty() {
			continue
		}
		idx := matchParty(existing, used, patch, pos)
		if idx < 0 && patch.confirmOnly() {
			continue
		}
		if idx < 0 {
			party := domain.PartyRecord{}
			p.mergeParty(entity, &party, patch)
			existing = append(existing, party)
			used[len(existing)-1] = true
			changed = true
			continue
		}
		used[idx] = true
		if p.mergeParty(entity, &existing[idx], patch) {
			changed = true
		}
	}
	*list = existing
	if changed {
		p.applied(entity)
	}
}

func matchParty(existing []domain.PartyRecord, used map[int]bool, patch partyPatch, pos int) int {
	id := text(patch.PartyID)
	if id != "" {
		for i, party := range existing {
			if party.PartyID == id {
				return i
			}
		}
		// An identified party may claim a positional slot that has no id yet.
		if pos < len(existing) && !used[pos] && existing[pos].PartyID == "" {
			return pos
		}
		return -1
	}
	if pos < len(existing) && !used[pos] {
		return pos
	}
	return -1
}

// mergeParty folds patch into dst field by field. Omitted fields keep their
// value, and a confirmed field only yields to an update that confirms it too.
func (p *pass) mergeParty(entity string, dst *domain.PartyRecord, patch partyPatch) bool {
	changed := false
	if dst.PartyID == "" && setText(&dst.PartyID, patch.PartyID) {
		changed = true
	}
	if t, ok := personType(text(patch.PersonType)); ok {
		changed = setPersonType(dst, t) || changed
	}

	changed = p.confirmedText(entity, dst, "name", &dst.Name, patch.Name, &dst.NameConfirmed, patch.NameConfirmed) || changed
	changed = p.confirmedText(entity, dst, "tax_id", &dst.TaxID, patch.TaxID, &dst.TaxIDConfirmed, patch.TaxIDConfirmed) || changed
	changed = p.confirmedText(entity, dst, "marital_status", &dst.MaritalStatus, patch.MaritalStatus, &dst.MaritalStatusConfirmed, patch.MaritalStatusConfirmed) || changed
	changed = setText(&dst.NationalID, patch.NationalID) || changed
	changed = setText(&dst.CompanyName, patch.CompanyName) || changed
	changed = setText(&dst.CompanyTaxID, patch.CompanyTaxID) || changed

	if p.mergeSpouse(entity, dst, patch) {
		changed = true
	}
	return changed
}

func personType(raw string) (domain.PersonType, bool) {
	switch domain.NormalizeName(raw) {
	case "natural", "fisica", "persona fisica":
		return domain.PersonNatural, true
	case "legal", "moral", "persona moral":
		return domain.PersonLegal, true
	default:
		return "", false
	}
}

func setPersonType(dst *domain.PartyRecord, t domain.PersonType) bool {
	if dst.PersonType == t {
		return false
	}
	dst.PersonType = t
	return true
}

// confirmedText applies a text field guarded by a confirmation flag. A true
// flag never goes back to false.
func (p *pass) confirmedText(entity string, party *domain.PartyRecord, field string, dst *string, v *string, flag **bool, incomingFlag *bool) bool {
	changed := false
	incomingConfirmed := incomingFlag != nil && *incomingFlag
	locked := *flag != nil && **flag
	t := text(v)
	if t != "" && t != *dst {
		if locked && !incomingConfirmed && *dst != "" {
			p.note("%s %q: kept confirmed %s %q over %q", entity, party.DisplayName(), field, *dst, t)
		} else {
			*dst = t
			changed = true
		}
	}
	if incomingFlag != nil && !locked && (*flag == nil || **flag != *incomingFlag) {
		*flag = domain.BoolPtr(*incomingFlag)
		changed = true
	}
	return changed
}

// mergeSpouse merges the embedded spouse sub-record. When two pages name
// different spouses for the same party the later page wins, unless the
// existing spouse is confirmed and the incoming one is not. Either way the
// conflict is reported as a note.
func (p *pass) mergeSpouse(entity string, dst *domain.PartyRecord, patch partyPatch) bool {
	changed := false
	incomingFlag := patch.SpouseConfirmed
	if patch.Spouse != nil && patch.Spouse.Confirmed != nil && incomingFlag == nil {
		incomingFlag = patch.Spouse.Confirmed
	}
	incomingConfirmed := incomingFlag != nil && *incomingFlag
	locked := spouseConfirmed(dst)

	if !patch.Spouse.empty() {
		if dst.Spouse == nil {
			dst.Spouse = &domain.SpouseRecord{}
		}
		sp := dst.Spouse
		name := text(patch.Spouse.Name)
		conflict := name != "" && sp.Name != "" && domain.NormalizeName(name) != domain.NormalizeName(sp.Name)
		switch {
		case conflict && locked && !incomingConfirmed:
			p.note("%s %q: kept confirmed spouse %q over %q", entity, dst.DisplayName(), sp.Name, name)
			return changed
		case conflict:
			p.note("%s %q: spouse %q replaced by %q", entity, dst.DisplayName(), sp.Name, name)
			// Identifiers belong to the previous spouse.
			*sp = domain.SpouseRecord{Confirmed: sp.Confirmed}
		}
		changed = setText(&sp.Name, patch.Spouse.Name) || changed
		changed = setText(&sp.TaxID, patch.Spouse.TaxID) || changed
		changed = setText(&sp.NationalID, patch.Spouse.NationalID) || changed
		if patch.Spouse.Confirmed != nil && !locked {
			sp.Confirmed = domain.BoolPtr(*patch.Spouse.Confirmed)
			changed = true
		}
	}
	if patch.SpouseConfirmed != nil && !locked && (dst.SpouseConfirmed == nil || *dst.SpouseConfirmed != *patch.SpouseConfirmed) {
		dst.SpouseConfirmed = domain.BoolPtr(*patch.SpouseConfirmed)
		changed = true
	}
	return changed
}

func spouseConfirmed(party *domain.PartyRecord) bool {
	if party.SpouseConfirmed != nil && *party.SpouseConfirmed {
		return true
	}
	return party.Spouse != nil && party.Spouse.Confirmed != nil && *party.Spouse.Confirmed
}

// findParty looks a participant up among buyers, then sellers.
func findParty(rec *domain.CaseRecord, partyID, name string) (domain.PartyRecord, bool) {
	lists := [][]domain.PartyRecord{rec.Buyers, rec.Sellers}
	if partyID != "" {
		for _, list := range lists {
			for _, party := range list {
				if party.PartyID == partyID {
					return party, true
				}
			}
		}
	}
	key := domain.NormalizeName(name)
	if key == "" {
		return domain.PartyRecord{}, false
	}
	for _, list := range lists {
		for _, party := range list {
			if domain.NormalizeName(party.Name) == key || domain.NormalizeName(party.CompanyName) == key {
				return party, true
			}
		}
	}
	return domain.PartyRecord{}, false
}
