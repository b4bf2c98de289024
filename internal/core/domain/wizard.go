package domain

type StepStatus string

const (
	StepPending       StepStatus = "pending"
	StepIncomplete    StepStatus = "incomplete"
	StepCompleted     StepStatus = "completed"
	StepNotApplicable StepStatus = "not_applicable"
)

func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepNotApplicable
}

type WizardStep string

const (
	StepPaymentMethod    WizardStep = "payment_method"
	StepProperty         WizardStep = "property"
	StepSellers          WizardStep = "sellers"
	StepBuyers           WizardStep = "buyers"
	StepBuyerCredit      WizardStep = "buyer_credit"
	StepLienCancellation WizardStep = "lien_cancellation"
)

// WizardSteps is the fixed step order.
var WizardSteps = []WizardStep{
	StepPaymentMethod,
	StepProperty,
	StepSellers,
	StepBuyers,
	StepBuyerCredit,
	StepLienCancellation,
}

type StepState struct {
	Step    WizardStep `json:"step"`
	Status  StepStatus `json:"status"`
	Missing []string   `json:"missing,omitempty"`
}

// WizardSnapshot is a derived projection of a CaseRecord.
type WizardSnapshot struct {
	Steps       []StepState `json:"steps"`
	CurrentStep WizardStep  `json:"current_step,omitempty"`
	Progress    int         `json:"progress"`
	Ready       bool        `json:"ready"`
}

func (w WizardSnapshot) Status(step WizardStep) StepStatus {
	for _, s := range w.Steps {
		if s.Step == step {
			return s.Status
		}
	}
	return StepPending
}
