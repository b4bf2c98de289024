// Package xlsx renders a case record as a workbook with one sheet per
// section of the record.
package xlsx

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

const (
	SheetParties = "Parties"
	SheetCredits = "Credits"
	SheetLiens   = "Liens"
	SheetFolios  = "Folios"
	SheetWizard  = "Wizard"
)

type Exporter struct {
	logger *slog.Logger
}

var _ ports.RecordExporter = (*Exporter)(nil)

func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) Export(record *domain.CaseRecord, wizard domain.WizardSnapshot) ([]byte, error) {
	if record == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export xlsx", fmt.Errorf("record is nil"))
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
		widths  map[string]float64
	}{
		{SheetParties, []string{"Role", "Person type", "Name", "Tax ID", "National ID", "Marital status", "Spouse", "Spouse tax ID"}, partyRows(record), map[string]float64{"C": 36, "G": 36}},
		{SheetCredits, []string{"Credit", "Institution", "Type", "Amount", "Participant", "Participant role"}, creditRows(record), map[string]float64{"B": 28, "E": 36}},
		{SheetLiens, []string{"Institution", "Cancellation confirmed"}, lienRows(record), map[string]float64{"A": 36}},
		{SheetFolios, []string{"Folio", "Scope", "Selected", "Confirmed", "Sources"}, folioRows(record), map[string]float64{"A": 18, "E": 48}},
		{SheetWizard, []string{"Step", "Status", "Missing"}, wizardRows(wizard), map[string]float64{"A": 22, "C": 48}},
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", s.name, err)
		}
		if err := writeTable(f, s.name, s.headers, s.rows); err != nil {
			return nil, err
		}
		for col, width := range s.widths {
			_ = f.SetColWidth(s.name, col, col, width)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Info("record_export_xlsx",
		"parties", len(record.Sellers)+len(record.Buyers),
		"folios", len(record.FolioCandidates),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write %s header: %w", sheet, err)
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write %s row %d: %w", sheet, r+1, err)
			}
		}
	}
	return nil
}

func partyRows(record *domain.CaseRecord) [][]any {
	var rows [][]any
	add := func(role string, parties []domain.PartyRecord) {
		for _, p := range parties {
			var spouse, spouseTax string
			if p.Spouse != nil {
				spouse, spouseTax = p.Spouse.Name, p.Spouse.TaxID
			}
			rows = append(rows, []any{role, string(p.PersonType), p.DisplayName(), p.EffectiveTaxID(), p.NationalID, p.MaritalStatus, spouse, spouseTax})
		}
	}
	add("seller", record.Sellers)
	add("buyer", record.Buyers)
	return rows
}

func creditRows(record *domain.CaseRecord) [][]any {
	if record.CreditsUndetermined() {
		return [][]any{{"", "undetermined"}}
	}
	if record.PaysCash() {
		return [][]any{{"", "cash"}}
	}
	var rows [][]any
	for _, c := range record.CreditList() {
		if len(c.Participants) == 0 {
			rows = append(rows, []any{c.CreditID, c.Institution, c.CreditType, c.Amount, "", ""})
			continue
		}
		for _, p := range c.Participants {
			rows = append(rows, []any{c.CreditID, c.Institution, c.CreditType, c.Amount, p.Name, string(p.Role)})
		}
	}
	return rows
}

func lienRows(record *domain.CaseRecord) [][]any {
	rows := make([][]any, 0, len(record.Liens))
	for _, l := range record.Liens {
		rows = append(rows, []any{l.Institution, l.CancellationConfirmed.String()})
	}
	return rows
}

func folioRows(record *domain.CaseRecord) [][]any {
	rows := make([][]any, 0, len(record.FolioCandidates))
	for _, c := range record.FolioCandidates {
		selected, confirmed := "", ""
		if sel := record.FolioSelection; sel != nil && sel.SelectedFolio == c.Folio {
			selected = "yes"
			if sel.ConfirmedByUser {
				confirmed = "yes"
			}
		}
		rows = append(rows, []any{c.Folio, c.Scope, selected, confirmed, strings.Join(c.Sources, ", ")})
	}
	return rows
}

func wizardRows(w domain.WizardSnapshot) [][]any {
	rows := make([][]any, 0, len(w.Steps))
	for _, s := range w.Steps {
		rows = append(rows, []any{string(s.Step), string(s.Status), strings.Join(s.Missing, ", ")})
	}
	return rows
}
