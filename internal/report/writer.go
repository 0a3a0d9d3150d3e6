package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

const (
	sheetName = "Sheet1"
	noDataMsg = "No data found for the selected filters"
	utf8BOM   = "\xEF\xBB\xBF"
)

// Header is the column layout shared by every output format.
var Header = []string{"Employee", "ID type", "ID number", "Date", "Activity", "Group", "Start", "End", "Duration"}

func cells(r model.ReportRow) []string {
	return []string{r.Employee, r.IDType, r.IDNumber, r.Date, r.Activity, r.Group, r.Start, r.End, r.Duration}
}

func totalStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E6E6E6"}, Pattern: 1},
	})
}

// WriteXLSX builds the workbook in memory cell by cell. It suits the small
// reports produced by the sequential strategy.
func WriteXLSX(w io.Writer, rows []model.ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := totalStyle(f)
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	for i, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if len(rows) == 0 {
		if err := f.SetCellValue(sheetName, "A2", noDataMsg); err != nil {
			return fmt.Errorf("write empty marker: %w", err)
		}
	}
	for i, r := range rows {
		rowNo := i + 2
		for col, v := range cells(r) {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowNo)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", rowNo, err)
			}
		}
		if r.Total {
			if err := f.SetRowStyle(sheetName, rowNo, rowNo, bold); err != nil {
				return fmt.Errorf("style row %d: %w", rowNo, err)
			}
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return nil
}

// StreamXLSX writes rows through excelize's stream writer, checking the token
// every chunkSize rows.
func StreamXLSX(w io.Writer, rows []model.ReportRow, chunkSize int, token cancel.Token) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	f := excelize.NewFile()
	defer f.Close()

	bold, err := totalStyle(f)
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetRow("A1", toValues(Header), excelize.RowOpts{StyleID: bold}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(rows) == 0 {
		if err := sw.SetRow("A2", []interface{}{noDataMsg}); err != nil {
			return fmt.Errorf("write empty marker: %w", err)
		}
	}
	for i, r := range rows {
		if i%chunkSize == 0 {
			if err := cancel.Check(token); err != nil {
				return err
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		opts := excelize.RowOpts{}
		if r.Total {
			opts.StyleID = bold
		}
		if err := sw.SetRow(cell, toValues(cells(r)), opts); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush stream: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return nil
}

// WriteCSV emits a UTF-8 CSV with a byte order mark so spreadsheet tools pick
// the right encoding. The buffer is flushed every chunkSize rows.
func WriteCSV(w io.Writer, rows []model.ReportRow, chunkSize int, token cancel.Token) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(rows) == 0 {
		if err := cw.Write([]string{noDataMsg}); err != nil {
			return fmt.Errorf("write empty marker: %w", err)
		}
	}
	for i, r := range rows {
		if i > 0 && i%chunkSize == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("flush csv: %w", err)
			}
			if err := cancel.Check(token); err != nil {
				return err
			}
		}
		if err := cw.Write(cells(r)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func toValues(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
