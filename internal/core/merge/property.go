package merge

import (
	"encoding/json"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// liens match by normalized institution, else by position. The cancellation
// flag only changes on an explicit true or false.
func (p *pass) liens(raw json.RawMessage) {
	var incoming []lienPatch
	if !p.decode(EntityLiens, raw, &incoming) {
		return
	}
	list := p.rec.Liens
	used := make(map[int]bool, len(list))
	changed := false
	for pos, patch := range incoming {
		inst := text(patch.Institution)
		cancel := domain.Unknown
		if patch.CancellationConfirmed != nil {
			cancel = *patch.CancellationConfirmed
		}
		if inst == "" && !cancel.Known() {
			continue
		}
		idx := matchLien(list, used, inst, pos)
		if idx < 0 {
			list = append(list, domain.LienRecord{Institution: inst, CancellationConfirmed: cancel})
			used[len(list)-1] = true
			changed = true
			continue
		}
		used[idx] = true
		lien := &list[idx]
		if lien.Institution == "" && inst != "" {
			lien.Institution = inst
			changed = true
		}
		if cancel.Known() && lien.CancellationConfirmed != cancel {
			lien.CancellationConfirmed = cancel
			changed = true
		}
	}
	p.rec.Liens = list
	if changed {
		p.applied(EntityLiens)
	}
}

func matchLien(list []domain.LienRecord, used map[int]bool, institution string, pos int) int {
	if institution != "" {
		key := domain.NormalizeName(institution)
		for i, lien := range list {
			if domain.NormalizeName(lien.Institution) == key {
				return i
			}
		}
		if pos < len(list) && !used[pos] && list[pos].Institution == "" {
			return pos
		}
		return -1
	}
	if pos < len(list) && !used[pos] {
		return pos
	}
	return -1
}

func (p *pass) property(raw json.RawMessage) {
	var patch propertyPatch
	if !p.decode(EntityProperty, raw, &patch) {
		return
	}
	prop := &p.rec.Property
	changed := false

	if folio := domain.NormalizeFolio(string(patch.FolioReal)); folio != "" && folio != prop.FolioReal {
		if prop.FolioReal != "" {
			p.note("property folio_real %q replaced by %q", prop.FolioReal, folio)
		}
		prop.FolioReal = folio
		changed = true
	}
	for _, parcel := range patch.Parcels {
		if added := addParcel(prop, string(parcel)); added {
			changed = true
		}
	}
	if mergeAddress(prop, patch.Address) {
		changed = true
	}
	if area := string(patch.SurfaceArea); area != "" && area != prop.SurfaceArea {
		prop.SurfaceArea = area
		changed = true
	}
	if patch.Value.Set && patch.Value.Value > 0 && patch.Value.Value != prop.Value {
		prop.Value = patch.Value.Value
		changed = true
	}
	if len(patch.CadastralData) > 0 {
		prop.CadastralData = mergeMaps(prop.CadastralData, patch.CadastralData)
		changed = true
	}
	if patch.HasMortgage != nil && patch.HasMortgage.Known() && *patch.HasMortgage != prop.HasMortgage {
		prop.HasMortgage = *patch.HasMortgage
		changed = true
	}
	if changed {
		p.applied(EntityProperty)
	}
}

// addParcel unions a parcel number into the property, comparing normalized
// forms and keeping the first spelling seen.
func addParcel(prop *domain.PropertyRecord, parcel string) bool {
	key := domain.NormalizeIdentifier(parcel)
	if key == "" {
		return false
	}
	for _, existing := range prop.Parcels {
		if domain.NormalizeIdentifier(existing) == key {
			return false
		}
	}
	prop.Parcels = append(prop.Parcels, parcel)
	return true
}

func mergeAddress(prop *domain.PropertyRecord, in *domain.Address) bool {
	if in.Empty() {
		return false
	}
	if prop.Address == nil {
		addr := *in
		prop.Address = &addr
		return true
	}
	dst := prop.Address
	before := *dst
	mergeField(&dst.Street, in.Street)
	mergeField(&dst.ExteriorNumber, in.ExteriorNumber)
	mergeField(&dst.InteriorNumber, in.InteriorNumber)
	mergeField(&dst.Neighborhood, in.Neighborhood)
	mergeField(&dst.Municipality, in.Municipality)
	mergeField(&dst.State, in.State)
	mergeField(&dst.PostalCode, in.PostalCode)
	mergeField(&dst.FreeText, in.FreeText)
	return *dst != before
}

func mergeField(dst *string, v string) {
	setText(dst, &v)
}
