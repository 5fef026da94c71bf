// Package export renders processed runs into a spreadsheet for the
// accounting team's review queue.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"invoicebridge/internal/repository"
)

const sheet = "Bills"

var header = []string{
	"Run ID", "Filename", "Status", "Vendor", "Vendor ID", "Bill ID",
	"Invoice Number", "Total", "Currency", "Needs Review", "Unresolved", "Processed At",
}

type Service struct {
	store  *repository.Store
	logger *slog.Logger
}

func NewService(store *repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// WriteWorkbook streams an XLSX workbook of processed runs. Statuses
// filters which runs appear; empty means everything.
func (s *Service) WriteWorkbook(ctx context.Context, w io.Writer, statuses []string) error {
	runs, err := s.store.ListRuns(ctx, statuses, 0)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheet)

	if err := writeRow(f, 1, toAnys(header)); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		end, _ := excelize.CoordinatesToCellName(len(header), 1)
		_ = f.SetCellStyle(sheet, "A1", end, bold)
	}

	for i, run := range runs {
		row := []any{
			run.ID, run.Filename, run.Status, run.VendorName, run.VendorID, run.BillID,
			run.InvoiceNumber, run.GrandTotal.Float64(), run.Currency, run.NeedsReview,
			joinLines(run.Unresolved), run.UpdatedAt.Format("2006-01-02 15:04"),
		}
		if err := writeRow(f, i+2, row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "D", "D", 30)
	_ = f.SetColWidth(sheet, "K", "K", 40)

	s.logger.Info("export.workbook", "rows", len(runs))
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func toAnys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func joinLines(ss []string) string {
	switch len(ss) {
	case 0:
		return ""
	case 1:
		return ss[0]
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out += "; " + s
	}
	return out
}
