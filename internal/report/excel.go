package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ledgerline/reconcile/internal/engine"
)

// ExcelReporter renders one XLSX workbook per batch outcome with a
// summary sheet, a rejected-rows sheet, and a duplicates sheet.
type ExcelReporter struct {
	dir string
}

// NewExcelReporter creates a reporter writing workbooks under dir.
func NewExcelReporter(dir string) *ExcelReporter {
	return &ExcelReporter{dir: dir}
}

// Report writes the workbook. The file name carries the batch id and a
// timestamp so repeated runs never overwrite each other.
func (r *ExcelReporter) Report(_ context.Context, outcome *engine.BatchOutcome) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, outcome); err != nil {
		return err
	}
	if err := writeRejectedSheet(f, outcome); err != nil {
		return err
	}
	if err := writeDuplicatesSheet(f, outcome); err != nil {
		return err
	}

	name := fmt.Sprintf("reconciliation_%s_%s.xlsx",
		outcome.BatchID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(r.dir, name)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, outcome *engine.BatchOutcome) error {
	const sheet = "Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Batch Reconciliation Report", ""},
		{"", ""},
		{"Batch ID", outcome.BatchID},
		{"Source file", outcome.SourceFile},
		{"Schema", outcome.Schema},
		{"Result", string(outcome.Code)},
		{"Started", outcome.StartedAt.Format(time.RFC3339)},
		{"Duration", outcome.Duration.String()},
		{"", ""},
		{"Total rows", outcome.TotalRows},
		{"Accepted", outcome.Accepted},
		{"Rejected", len(outcome.Rejected)},
		{"Intra-batch duplicates", len(outcome.IntraBatchDup)},
		{"Cross-batch duplicates", len(outcome.CrossBatchDup)},
		{"Control totals match", outcome.ControlTotalMatch},
	}

	if outcome.PreLoadTotal != nil {
		for _, col := range outcome.PreLoadTotal.Columns() {
			rows = append(rows, []any{
				fmt.Sprintf("Pre-load sum (%s)", col),
				outcome.PreLoadTotal.Sums[col].String(),
			})
		}
	}
	if outcome.PostLoadTotal != nil {
		for _, col := range outcome.PostLoadTotal.Columns() {
			rows = append(rows, []any{
				fmt.Sprintf("Post-load sum (%s)", col),
				outcome.PostLoadTotal.Sums[col].String(),
			})
		}
	}
	if outcome.Error != "" {
		rows = append(rows, []any{"Error", outcome.Error})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	// Bold title
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", "A1", style)
}

func writeRejectedSheet(f *excelize.File, outcome *engine.BatchOutcome) error {
	const sheet = "Rejected"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []any{"Line", "Column", "Reason"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, rej := range outcome.Rejected {
		row := []any{rej.Line, rej.Column, rej.Reason}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeDuplicatesSheet(f *excelize.File, outcome *engine.BatchOutcome) error {
	const sheet = "Duplicates"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []any{"Line", "Kind", "Fingerprint", "First occurrence"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	rowNum := 2
	write := func(dups []engine.Duplicate) error {
		for _, d := range dups {
			first := ""
			if d.FirstLine > 0 {
				first = fmt.Sprintf("line %d", d.FirstLine)
			}
			row := []any{d.Line, string(d.Kind), d.Fingerprint, first}
			cell, err := excelize.CoordinatesToCellName(1, rowNum)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return err
			}
			rowNum++
		}
		return nil
	}

	if err := write(outcome.IntraBatchDup); err != nil {
		return err
	}
	return write(outcome.CrossBatchDup)
}
