package merge

import (
	"encoding/json"
	"strings"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func normalizeScope(scope string) string {
	return domain.NormalizeName(scope)
}

func (p *pass) folioCandidates(raw json.RawMessage) {
	var incoming []folioCandidatePatch
	if !p.decode(EntityFolioCandidate, raw, &incoming) {
		return
	}
	changed := false
	for _, patch := range incoming {
		folio := domain.NormalizeFolio(string(patch.Folio))
		if folio == "" {
			p.note("folio candidate %q has no usable folio", string(patch.Folio))
			continue
		}
		scope := normalizeScope(text(patch.Scope))
		sources := appendUnique(append([]string(nil), patch.Sources...), p.src.Label())
		if p.upsertCandidate(folio, scope, patch.Attrs, sources) {
			changed = true
		}
	}
	if changed {
		p.applied(EntityFolioCandidate)
	}
}

// upsertCandidate adds or merges a candidate keyed by (scope, folio). On a
// repeat key attrs merge with incoming values winning and sources accumulate.
func (p *pass) upsertCandidate(folio, scope string, attrs map[string]any, sources []string) bool {
	for i := range p.rec.FolioCandidates {
		c := &p.rec.FolioCandidates[i]
		if c.Folio != folio || c.Scope != scope {
			continue
		}
		before := len(c.Sources)
		c.Sources = appendUnique(c.Sources, sources...)
		if len(attrs) > 0 {
			c.Attrs = mergeMaps(c.Attrs, attrs)
			return true
		}
		return len(c.Sources) != before
	}
	p.rec.FolioCandidates = append(p.rec.FolioCandidates, domain.FolioCandidate{
		Folio:   folio,
		Scope:   scope,
		Attrs:   mergeMaps(nil, attrs),
		Sources: sources,
	})
	return true
}

// folioSelection applies the sticky rule: a confirmed selection is replaced
// only by another confirmed selection. An empty folio with a confirmation
// confirms the current selection.
func (p *pass) folioSelection(raw json.RawMessage) {
	var patch folioSelectionPatch
	if !p.decode(EntityFolioSelection, raw, &patch) {
		return
	}
	folio := domain.NormalizeFolio(string(patch.SelectedFolio))
	confirmed := patch.ConfirmedByUser != nil && *patch.ConfirmedByUser
	cur := p.rec.FolioSelection

	if folio == "" {
		if confirmed && cur != nil && cur.SelectedFolio != "" && !cur.ConfirmedByUser {
			cur.ConfirmedByUser = true
			p.applied(EntityFolioSelection)
		}
		return
	}
	if cur != nil && cur.ConfirmedByUser && !confirmed {
		if cur.SelectedFolio != folio {
			p.note("kept confirmed folio %q over unconfirmed %q", cur.SelectedFolio, folio)
		}
		return
	}

	scope := normalizeScope(text(patch.SelectedScope))
	if scope == "" {
		if cur != nil && cur.SelectedFolio == folio {
			scope = cur.SelectedScope
		} else {
			scope = p.candidateScope(folio)
		}
	}
	next := &domain.FolioSelection{
		SelectedFolio:   folio,
		SelectedScope:   scope,
		ConfirmedByUser: confirmed || (cur != nil && cur.SelectedFolio == folio && cur.ConfirmedByUser),
	}
	if cur != nil && *cur == *next {
		return
	}
	p.rec.FolioSelection = next
	if !p.hasCandidate(folio, scope) {
		p.upsertCandidate(folio, scope, nil, []string{p.src.Label()})
	}
	p.applied(EntityFolioSelection)
}

// candidateScope returns the scope of the only candidate carrying folio.
func (p *pass) candidateScope(folio string) string {
	scope, found := "", 0
	for _, c := range p.rec.FolioCandidates {
		if c.Folio == folio {
			scope = c.Scope
			found++
		}
	}
	if found == 1 {
		return scope
	}
	return ""
}

func (p *pass) hasCandidate(folio, scope string) bool {
	for _, c := range p.rec.FolioCandidates {
		if c.Folio == folio && (scope == "" || strings.EqualFold(c.Scope, scope)) {
			return true
		}
	}
	return false
}
