package tabular

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
)

// ColumnSchema declares the statistical role of the columns to load. The
// reader never sniffs types from cell contents: a column missing from the
// schema is simply not loaded, and a categorical column without declared
// levels gets its levels from the distinct observed cells in sorted order.
type ColumnSchema struct {
	Types  map[string]dataset.ColumnType // column name -> declared role
	Levels map[string][]string           // declared level order for categorical columns
}

// DataReader loads a CSV or XLSX file into a typed dataset table
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	schema   ColumnSchema
}

// NewDataReader creates a reader for the given file and declared schema
func NewDataReader(filePath string, schema ColumnSchema) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, schema: schema}
}

// Read loads the file into a table. The first row must hold column names.
func (r *DataReader) Read() (*dataset.Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("data file not found: %s", r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	case "xlsx":
		rows, err = r.readXLSX()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: need a header row and at least one data row", r.filePath)
	}

	return r.buildTable(rows[0], rows[1:])
}

func (r *DataReader) readCSV() ([][]string, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return rows, nil
}

func (r *DataReader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// buildTable converts raw string cells into typed columns per the schema
func (r *DataReader) buildTable(header []string, body [][]string) (*dataset.Table, error) {
	table := dataset.NewTable(len(body))

	for idx, name := range header {
		colType, declared := r.schema.Types[name]
		if !declared {
			continue
		}

		cells := make([]string, len(body))
		for i, row := range body {
			if idx < len(row) {
				cells[i] = strings.TrimSpace(row[idx])
			}
		}

		var err error
		switch colType {
		case dataset.TypeContinuous:
			err = addContinuous(table, name, cells)
		case dataset.TypeLogical:
			err = addLogical(table, name, cells)
		case dataset.TypeCategorical:
			for i, cell := range cells {
				if missingCell(cell) {
					cells[i] = ""
				}
			}
			levels := r.schema.Levels[name]
			if len(levels) == 0 {
				levels = observedLevels(cells)
			}
			err = table.AddCategorical(core.VariableKey(name), levels, cells)
		default:
			err = fmt.Errorf("column %s: unknown declared type %q", name, colType)
		}
		if err != nil {
			return nil, err
		}
	}
	return table, nil
}

// missingCell reports whether a raw cell encodes a missing value. The
// vocabulary is shared by every column type.
func missingCell(cell string) bool {
	return cell == "" || strings.EqualFold(cell, "na") || strings.EqualFold(cell, "nan")
}

func addContinuous(table *dataset.Table, name string, cells []string) error {
	values := make([]float64, len(cells))
	for i, cell := range cells {
		if missingCell(cell) {
			values[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return fmt.Errorf("column %s: row %d value %q is not numeric", name, i, cell)
		}
		values[i] = v
	}
	return table.AddContinuous(core.VariableKey(name), values)
}

func addLogical(table *dataset.Table, name string, cells []string) error {
	values := make([]float64, len(cells))
	for i, cell := range cells {
		if missingCell(cell) {
			values[i] = math.NaN()
			continue
		}
		switch strings.ToLower(cell) {
		case "1", "true", "t", "yes":
			values[i] = 1
		case "0", "false", "f", "no":
			values[i] = 0
		default:
			return fmt.Errorf("column %s: row %d value %q is not logical", name, i, cell)
		}
	}
	return table.AddColumn(&dataset.Column{
		Key:    core.VariableKey(name),
		Type:   dataset.TypeLogical,
		Values: values,
	})
}

// observedLevels derives a deterministic level order from the data when
// the caller declared none: distinct non-empty cells, sorted.
func observedLevels(cells []string) []string {
	seen := make(map[string]struct{})
	for _, c := range cells {
		if c != "" {
			seen[c] = struct{}{}
		}
	}
	levels := make([]string, 0, len(seen))
	for l := range seen {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	return levels
}
