package merge

import (
	"encoding/json"
	"strings"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

// credits applies the payment tri-state. An empty list declares cash and may
// only replace an undetermined or cash state; a non-empty list is merged
// credit by credit.
func (p *pass) credits(raw json.RawMessage) {
	var incoming []creditPatch
	if !p.decode(EntityCredits, raw, &incoming) {
		return
	}
	if len(incoming) == 0 {
		if n := len(p.rec.CreditList()); n > 0 {
			p.note("cash payment ignored: %d credit(s) already on record", n)
			return
		}
		if p.rec.Credits == nil {
			p.rec.Credits = &[]domain.CreditRecord{}
			p.applied(EntityCredits)
		}
		return
	}

	existing := p.rec.CreditList()
	list := make([]domain.CreditRecord, len(existing))
	copy(list, existing)
	used := make(map[int]bool, len(list))
	for pos, patch := range incoming {
		idx := matchCredit(list, used, patch, pos)
		if idx < 0 {
			credit := domain.CreditRecord{}
			p.mergeCredit(&credit, patch)
			list = append(list, credit)
			used[len(list)-1] = true
			continue
		}
		used[idx] = true
		p.mergeCredit(&list[idx], patch)
	}
	p.rec.Credits = &list
	p.applied(EntityCredits)
}

func matchCredit(list []domain.CreditRecord, used map[int]bool, patch creditPatch, pos int) int {
	id := text(patch.CreditID)
	if id != "" {
		for i, c := range list {
			if c.CreditID == id {
				return i
			}
		}
		if pos < len(list) && !used[pos] && list[pos].CreditID == "" {
			return pos
		}
		return -1
	}
	if pos < len(list) && !used[pos] {
		return pos
	}
	return -1
}

func (p *pass) mergeCredit(dst *domain.CreditRecord, patch creditPatch) {
	if dst.CreditID == "" {
		setText(&dst.CreditID, patch.CreditID)
	}
	if inst := text(patch.Institution); inst != "" {
		if domain.IsGenericInstitution(inst) {
			p.note("credit institution %q rejected as generic", inst)
		} else {
			dst.Institution = inst
		}
	}
	if patch.Amount.Set && patch.Amount.Value > 0 {
		dst.Amount = patch.Amount.Value
	}
	setText(&dst.CreditType, patch.CreditType)
	for _, pp := range patch.Participants {
		p.mergeParticipant(dst, pp)
	}
}

// mergeParticipant resolves a participant against the record's parties and
// folds it into the credit, deduplicated by party id or normalized name.
func (p *pass) mergeParticipant(dst *domain.CreditRecord, pp participantPatch) {
	part := domain.CreditParticipant{
		PartyID: text(pp.PartyID),
		Name:    text(pp.Name),
		Role:    participantRole(text(pp.Role)),
	}
	if party, ok := findParty(p.rec, part.PartyID, part.Name); ok {
		if part.PartyID == "" {
			part.PartyID = party.PartyID
		}
		if name := party.DisplayName(); name != "" {
			part.Name = name
		}
	}
	if part.PartyID == "" && part.Name == "" {
		return
	}
	for i := range dst.Participants {
		cur := &dst.Participants[i]
		sameID := part.PartyID != "" && cur.PartyID == part.PartyID
		sameName := part.Name != "" && domain.NormalizeName(cur.Name) == domain.NormalizeName(part.Name)
		if !sameID && !sameName {
			continue
		}
		if cur.PartyID == "" {
			cur.PartyID = part.PartyID
		}
		if cur.Name == "" {
			cur.Name = part.Name
		}
		if part.Role != "" {
			cur.Role = part.Role
		}
		return
	}
	if part.Role == "" {
		part.Role = domain.RolePrincipal
		if len(dst.Participants) > 0 {
			part.Role = domain.RoleCoPrincipal
		}
	}
	dst.Participants = append(dst.Participants, part)
}

func participantRole(raw string) domain.ParticipantRole {
	switch strings.ToLower(raw) {
	case "principal":
		return domain.RolePrincipal
	case "co_principal", "coprincipal", "co-principal":
		return domain.RoleCoPrincipal
	default:
		return ""
	}
}
