package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"survbatch/domain/survival"
)

// Result-table export for downstream consumers: a flat CSV for scripting
// and an XLSX workbook for analysts. Each row is one coefficient on the
// hazard-ratio scale, which is exactly the shape the external forest-plot
// renderer consumes.

var resultHeader = []string{
	"variable", "level", "hr", "ci_low", "ci_high", "p_value", "n", "n_events", "is_control",
}

// WriteCSV writes a result table as CSV
func WriteCSV(w io.Writer, table *survival.ResultTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range table.Records() {
		row := []string{
			r.Variable.String(),
			r.Level,
			formatFloat(r.HR),
			formatFloat(r.CILow),
			formatFloat(r.CIHigh),
			formatFloat(r.PValue),
			strconv.Itoa(r.N),
			strconv.Itoa(r.NEvents),
			strconv.FormatBool(r.IsControl),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", r.Variable, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a result table as an Excel workbook at path
func WriteXLSX(path string, table *survival.ResultTable) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, name := range resultHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}

	for i, r := range table.Records() {
		values := []interface{}{
			r.Variable.String(), r.Level, r.HR, r.CILow, r.CIHigh, r.PValue, r.N, r.NEvents, r.IsControl,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
