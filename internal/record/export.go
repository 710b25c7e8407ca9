package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/scan-ledger/internal/extraction"
)

// ExportColumns is the header row shared by the CSV and XLSX exports.
var ExportColumns = []string{
	"id",
	"filename",
	"processing_time",
	"customer_name",
	"transaction_amount",
	"transaction_date",
	"transaction_id",
	"account_info",
	"backend",
	"confidence",
	"raw_text",
}

const exportTimeLayout = "2006-01-02 15:04:05"

func exportRow(r *Record) []string {
	return []string{
		strconv.FormatUint(r.ID, 10),
		r.Filename,
		r.ProcessingTime.Format(exportTimeLayout),
		r.field(extraction.CustomerName),
		r.field(extraction.TransactionAmount),
		r.field(extraction.PaymentDate),
		r.field(extraction.TransactionID),
		r.field(extraction.CustomerID),
		r.Backend,
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		r.RawText,
	}
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []*Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(exportRow(r)); err != nil {
			return fmt.Errorf("writing csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	slog.Debug("Exported records", "format", "csv", "rows", len(records))
	return nil
}

const exportSheet = "Records"

// WriteXLSX writes records as a single sheet workbook.
func WriteXLSX(w io.Writer, records []*Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	write := func(row int, values []string) error {
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(1, ExportColumns); err != nil {
		return fmt.Errorf("writing xlsx header: %w", err)
	}
	for i, r := range records {
		if err := write(i+2, exportRow(r)); err != nil {
			return fmt.Errorf("writing xlsx row %d: %w", r.ID, err)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 8)
	_ = f.SetColWidth(exportSheet, "B", "B", 28)
	_ = f.SetColWidth(exportSheet, "C", "C", 20)
	_ = f.SetColWidth(exportSheet, "D", "J", 18)
	_ = f.SetColWidth(exportSheet, "K", "K", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	slog.Debug("Exported records", "format", "xlsx", "rows", len(records))
	return nil
}
