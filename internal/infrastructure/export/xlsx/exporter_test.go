package xlsx

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func sampleRecord() *domain.CaseRecord {
	r := domain.NewCaseRecord()
	r.Sellers = []domain.PartyRecord{{PersonType: domain.PersonNatural, Name: "ANA LOPEZ", TaxID: "LOAA800101XX1", MaritalStatus: "casado", Spouse: &domain.SpouseRecord{Name: "LUIS PEREZ"}}}
	r.Buyers = []domain.PartyRecord{{PersonType: domain.PersonLegal, CompanyName: "INMOBILIARIA SA", CompanyTaxID: "INM010101AAA"}}
	credits := []domain.CreditRecord{{CreditID: "c1", Institution: "BANCO", Amount: 1500000, Participants: []domain.CreditParticipant{{Name: "INMOBILIARIA SA", Role: domain.RolePrincipal}}}}
	r.Credits = &credits
	r.Liens = []domain.LienRecord{{Institution: "BANCO VIEJO", CancellationConfirmed: domain.True}}
	r.FolioCandidates = []domain.FolioCandidate{{Folio: "123456", Scope: "unit", Sources: []string{"registro.pdf"}}, {Folio: "123456-A"}}
	r.FolioSelection = &domain.FolioSelection{SelectedFolio: "123456", ConfirmedByUser: true}
	return r
}

func TestExportWritesAllSheets(t *testing.T) {
	wizard := domain.WizardSnapshot{Steps: []domain.StepState{{Step: domain.StepPaymentMethod, Status: domain.StepCompleted}, {Step: domain.StepProperty, Status: domain.StepIncomplete, Missing: []string{"address"}}}}

	raw, err := New(nil).Export(sampleRecord(), wizard)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	want := []string{SheetParties, SheetCredits, SheetLiens, SheetFolios, SheetWizard}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("expected sheets %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected sheets %v, got %v", want, got)
		}
	}

	cell := func(sheet, axis string) string {
		v, err := f.GetCellValue(sheet, axis)
		if err != nil {
			t.Fatalf("read %s!%s: %v", sheet, axis, err)
		}
		return v
	}
	if v := cell(SheetParties, "C2"); v != "ANA LOPEZ" {
		t.Fatalf("expected seller name, got %q", v)
	}
	if v := cell(SheetParties, "C3"); v != "INMOBILIARIA SA" {
		t.Fatalf("expected company display name, got %q", v)
	}
	if v := cell(SheetParties, "G2"); v != "LUIS PEREZ" {
		t.Fatalf("expected spouse, got %q", v)
	}
	if v := cell(SheetCredits, "F2"); v != "principal" {
		t.Fatalf("expected participant role, got %q", v)
	}
	if v := cell(SheetLiens, "B2"); v != "true" {
		t.Fatalf("expected confirmed lien, got %q", v)
	}
	if v := cell(SheetFolios, "C2"); v != "yes" {
		t.Fatalf("expected selected folio marked, got %q", v)
	}
	if v := cell(SheetFolios, "C3"); v != "" {
		t.Fatalf("expected other folio unmarked, got %q", v)
	}
	if v := cell(SheetWizard, "C3"); v != "address" {
		t.Fatalf("expected missing fields, got %q", v)
	}
}

func TestExportCreditStates(t *testing.T) {
	r := domain.NewCaseRecord()
	if rows := creditRows(r); rows[0][1] != "undetermined" {
		t.Fatalf("expected undetermined credits, got %v", rows)
	}
	cash := []domain.CreditRecord{}
	r.Credits = &cash
	if rows := creditRows(r); rows[0][1] != "cash" {
		t.Fatalf("expected cash, got %v", rows)
	}
}

func TestExportRejectsNilRecord(t *testing.T) {
	if _, err := New(nil).Export(nil, domain.WizardSnapshot{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
