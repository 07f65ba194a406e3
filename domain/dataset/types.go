package dataset

import (
	"fmt"

	"survbatch/domain/core"
)

// ColumnType declares the statistical role of a column. Roles are declared
// by the caller at the data-model boundary; the engine never infers a
// column's role from its runtime values.
type ColumnType string

const (
	TypeContinuous  ColumnType = "continuous"
	TypeCategorical ColumnType = "categorical"
	TypeLogical     ColumnType = "logical"
)

// Column holds one named variable for every subject in a table.
//
// Continuous and logical columns store values as float64 with NaN marking a
// missing cell (logical columns hold 0/1). Categorical columns store a level
// code per row indexing into Levels, with -1 marking a missing cell.
// Levels[0] is the reference level for model-matrix expansion.
type Column struct {
	Key    core.VariableKey `json:"key"`
	Type   ColumnType       `json:"type"`
	Values []float64        `json:"values,omitempty"`
	Levels []string         `json:"levels,omitempty"`
	Codes  []int            `json:"codes,omitempty"`
}

// Len returns the number of rows the column spans
func (c *Column) Len() int {
	if c.Type == TypeCategorical {
		return len(c.Codes)
	}
	return len(c.Values)
}

// Missing reports whether the cell at row i is missing
func (c *Column) Missing(i int) bool {
	if c.Type == TypeCategorical {
		return c.Codes[i] < 0
	}
	return isNaN(c.Values[i])
}

// LevelName returns the declared name for a level code
func (c *Column) LevelName(code int) string {
	if code < 0 || code >= len(c.Levels) {
		return ""
	}
	return c.Levels[code]
}

// Validate checks internal consistency of the column declaration
func (c *Column) Validate() error {
	switch c.Type {
	case TypeContinuous, TypeLogical:
		if c.Values == nil {
			return fmt.Errorf("column %s: %s column has no values", c.Key, c.Type)
		}
	case TypeCategorical:
		if len(c.Levels) < 2 {
			return fmt.Errorf("column %s: categorical column needs at least 2 declared levels, got %d", c.Key, len(c.Levels))
		}
		for i, code := range c.Codes {
			if code >= len(c.Levels) {
				return fmt.Errorf("column %s: row %d has level code %d beyond %d declared levels", c.Key, i, code, len(c.Levels))
			}
		}
	default:
		return fmt.Errorf("column %s: unknown column type %q", c.Key, c.Type)
	}
	return nil
}
