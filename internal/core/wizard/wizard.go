// Package wizard derives the six-step intake completion snapshot from a case
// record. Everything here is a pure function of the record.
package wizard

import (
	"strconv"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

type stepRule func(rec *domain.CaseRecord) (domain.StepStatus, []string)

var rules = map[domain.WizardStep]stepRule{
	domain.StepPaymentMethod:    paymentMethod,
	domain.StepProperty:         property,
	domain.StepSellers:          func(rec *domain.CaseRecord) (domain.StepStatus, []string) { return parties(rec.Sellers) },
	domain.StepBuyers:           func(rec *domain.CaseRecord) (domain.StepStatus, []string) { return parties(rec.Buyers) },
	domain.StepBuyerCredit:      buyerCredit,
	domain.StepLienCancellation: lienCancellation,
}

// Compute returns the snapshot for rec. A nil record yields all steps pending.
func Compute(rec *domain.CaseRecord) domain.WizardSnapshot {
	if rec == nil {
		rec = domain.NewCaseRecord()
	}
	snap := domain.WizardSnapshot{Steps: make([]domain.StepState, 0, len(domain.WizardSteps))}
	terminal := 0
	for _, step := range domain.WizardSteps {
		status, missing := rules[step](rec)
		snap.Steps = append(snap.Steps, domain.StepState{Step: step, Status: status, Missing: missing})
		if status.Terminal() {
			terminal++
		} else if snap.CurrentStep == "" {
			snap.CurrentStep = step
		}
	}
	snap.Progress = terminal * 100 / len(domain.WizardSteps)
	snap.Ready = terminal == len(domain.WizardSteps)
	return snap
}

func paymentMethod(rec *domain.CaseRecord) (domain.StepStatus, []string) {
	if rec.CreditsUndetermined() {
		return domain.StepPending, []string{"payment_method"}
	}
	return domain.StepCompleted, nil
}

// property is completed once the folio is resolved or the mortgage status is
// known, unless several candidate folios still await a user choice.
func property(rec *domain.CaseRecord) (domain.StepStatus, []string) {
	candidates := len(rec.FolioCandidates)
	if rec.Property.Empty() && candidates == 0 && rec.FolioSelection == nil {
		return domain.StepPending, []string{"folio_real"}
	}
	confirmed := rec.FolioSelection != nil && rec.FolioSelection.ConfirmedByUser && rec.FolioSelection.SelectedFolio != ""
	if candidates > 1 && !confirmed {
		return domain.StepIncomplete, []string{"folio_selection"}
	}
	resolved := confirmed || rec.Property.FolioReal != "" || candidates == 1
	if resolved || rec.Property.HasMortgage.Known() {
		return domain.StepCompleted, nil
	}
	return domain.StepIncomplete, []string{"folio_real"}
}

func parties(list []domain.PartyRecord) (domain.StepStatus, []string) {
	if len(list) == 0 {
		return domain.StepPending, []string{"parties"}
	}
	var missing []string
	for _, p := range list {
		if p.DisplayName() == "" || p.EffectiveTaxID() == "" {
			label := p.DisplayName()
			if label == "" {
				label = p.PartyID
			}
			if label == "" {
				label = "unnamed"
			}
			missing = append(missing, label)
		}
	}
	if len(missing) > 0 {
		return domain.StepIncomplete, missing
	}
	return domain.StepCompleted, nil
}

// buyerCredit is not applicable for a cash purchase and completed when every
// credit names a real institution. An undetermined payment is incomplete.
func buyerCredit(rec *domain.CaseRecord) (domain.StepStatus, []string) {
	if rec.PaysCash() {
		return domain.StepNotApplicable, nil
	}
	credits := rec.CreditList()
	if len(credits) == 0 {
		return domain.StepIncomplete, []string{"credits"}
	}
	var missing []string
	for i, c := range credits {
		if domain.IsGenericInstitution(c.Institution) {
			label := c.CreditID
			if label == "" {
				label = "credit_" + strconv.Itoa(i+1)
			}
			missing = append(missing, label)
		}
	}
	if len(missing) > 0 {
		return domain.StepIncomplete, missing
	}
	return domain.StepCompleted, nil
}

func lienCancellation(rec *domain.CaseRecord) (domain.StepStatus, []string) {
	if rec.Property.HasMortgage == domain.False {
		return domain.StepNotApplicable, nil
	}
	for _, lien := range rec.Liens {
		if lien.CancellationConfirmed.Known() {
			return domain.StepCompleted, nil
		}
	}
	return domain.StepPending, []string{"cancellation_confirmed"}
}
