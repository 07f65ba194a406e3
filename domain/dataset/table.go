package dataset

import (
	"fmt"
	"math"

	"survbatch/domain/core"
)

func isNaN(v float64) bool { return math.IsNaN(v) }

// Table is an in-memory, column-oriented dataset: rows are subjects,
// columns are named variables of declared type. Tables are owned by the
// caller and treated as read-only by the fitting pipeline; subsetting
// produces new tables sharing no mutable state with the original.
type Table struct {
	nRows   int
	order   []core.VariableKey
	columns map[core.VariableKey]*Column
}

// NewTable creates an empty table with a fixed row count
func NewTable(nRows int) *Table {
	return &Table{
		nRows:   nRows,
		columns: make(map[core.VariableKey]*Column),
	}
}

// NumRows returns the subject count
func (t *Table) NumRows() int { return t.nRows }

// Keys returns column names in insertion order
func (t *Table) Keys() []core.VariableKey {
	keys := make([]core.VariableKey, len(t.order))
	copy(keys, t.order)
	return keys
}

// Column looks up a column by name
func (t *Table) Column(key core.VariableKey) (*Column, bool) {
	c, ok := t.columns[key]
	return c, ok
}

// HasColumn reports whether a column exists
func (t *Table) HasColumn(key core.VariableKey) bool {
	_, ok := t.columns[key]
	return ok
}

// AddColumn attaches a column, validating length and declaration
func (t *Table) AddColumn(c *Column) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Len() != t.nRows {
		return fmt.Errorf("column %s: has %d rows, table has %d", c.Key, c.Len(), t.nRows)
	}
	if _, exists := t.columns[c.Key]; exists {
		return fmt.Errorf("column %s: already present", c.Key)
	}
	t.columns[c.Key] = c
	t.order = append(t.order, c.Key)
	return nil
}

// AddContinuous attaches a continuous column (NaN marks missing)
func (t *Table) AddContinuous(key core.VariableKey, values []float64) error {
	return t.AddColumn(&Column{Key: key, Type: TypeContinuous, Values: values})
}

// AddLogical attaches a logical column stored as 0/1
func (t *Table) AddLogical(key core.VariableKey, values []bool) error {
	vals := make([]float64, len(values))
	for i, v := range values {
		if v {
			vals[i] = 1
		}
	}
	return t.AddColumn(&Column{Key: key, Type: TypeLogical, Values: vals})
}

// AddCategorical attaches a categorical column from string cells. Levels
// must be declared by the caller; a cell holding an undeclared non-empty
// value is an error, an empty cell is missing.
func (t *Table) AddCategorical(key core.VariableKey, levels []string, cells []string) error {
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	codes := make([]int, len(cells))
	for i, cell := range cells {
		if cell == "" {
			codes[i] = -1
			continue
		}
		code, ok := index[cell]
		if !ok {
			return fmt.Errorf("column %s: row %d value %q not among declared levels", key, i, cell)
		}
		codes[i] = code
	}
	return t.AddColumn(&Column{Key: key, Type: TypeCategorical, Levels: levels, Codes: codes})
}

// Subset builds a new table containing only the given rows, in the given
// order. Level declarations are preserved even when a level has no rows in
// the subset.
func (t *Table) Subset(rows []int) *Table {
	sub := NewTable(len(rows))
	for _, key := range t.order {
		c := t.columns[key]
		nc := &Column{Key: c.Key, Type: c.Type, Levels: c.Levels}
		if c.Type == TypeCategorical {
			nc.Codes = make([]int, len(rows))
			for i, r := range rows {
				nc.Codes[i] = c.Codes[r]
			}
		} else {
			nc.Values = make([]float64, len(rows))
			for i, r := range rows {
				nc.Values[i] = c.Values[r]
			}
		}
		sub.columns[key] = nc
		sub.order = append(sub.order, key)
	}
	return sub
}

// CompleteRows returns the indices of rows with no missing cell in any of
// the referenced columns, preserving row order. Completeness is evaluated
// per specification, not globally: different specs reference different
// columns and should keep as many rows as their own columns allow.
func (t *Table) CompleteRows(keys []core.VariableKey) ([]int, error) {
	cols := make([]*Column, 0, len(keys))
	for _, key := range keys {
		c, ok := t.columns[key]
		if !ok {
			return nil, core.NewColumnError(key)
		}
		cols = append(cols, c)
	}
	var rows []int
	for i := 0; i < t.nRows; i++ {
		complete := true
		for _, c := range cols {
			if c.Missing(i) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// GroupPartition is one slice of a table keyed by a grouping value
type GroupPartition struct {
	Value string
	Rows  []int
}

// SplitBy partitions row indices by the distinct values of a grouping
// column. Partitions appear in first-observed row order so downstream
// output is deterministic. Rows with a missing group value belong to no
// partition.
func (t *Table) SplitBy(groupVar core.VariableKey) ([]GroupPartition, error) {
	c, ok := t.columns[groupVar]
	if !ok {
		return nil, core.NewColumnError(groupVar)
	}
	var parts []GroupPartition
	seen := make(map[string]int)
	for i := 0; i < t.nRows; i++ {
		if c.Missing(i) {
			continue
		}
		var value string
		switch c.Type {
		case TypeCategorical:
			value = c.LevelName(c.Codes[i])
		case TypeLogical:
			value = "false"
			if c.Values[i] != 0 {
				value = "true"
			}
		default:
			value = fmt.Sprintf("%g", c.Values[i])
		}
		idx, ok := seen[value]
		if !ok {
			idx = len(parts)
			seen[value] = idx
			parts = append(parts, GroupPartition{Value: value})
		}
		parts[idx].Rows = append(parts[idx].Rows, i)
	}
	return parts, nil
}
