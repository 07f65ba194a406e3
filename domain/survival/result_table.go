package survival

import (
	"fmt"
	"sort"

	"survbatch/domain/core"
)

// ResultTable is the flat, ordered collection of coefficient records from
// one batch run: one row per (variable, contrast level). Append-only while
// a run accumulates; freely filterable and sortable afterwards. Every
// derived view is a new table, the source is never mutated.
type ResultTable struct {
	records []CoefficientRecord
}

// NewResultTable creates an empty table
func NewResultTable() *ResultTable {
	return &ResultTable{}
}

// Append adds records in order
func (t *ResultTable) Append(records ...CoefficientRecord) {
	t.records = append(t.records, records...)
}

// Concat appends every record of another table
func (t *ResultTable) Concat(other *ResultTable) {
	if other != nil {
		t.records = append(t.records, other.records...)
	}
}

// Len returns the row count
func (t *ResultTable) Len() int { return len(t.records) }

// Records returns a copy of the rows in table order
func (t *ResultTable) Records() []CoefficientRecord {
	out := make([]CoefficientRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Row returns the record at index i
func (t *ResultTable) Row(i int) CoefficientRecord { return t.records[i] }

// FilterControls drops every row tagged as a control, leaving only the
// candidates' own coefficient rows. Idempotent: filtering a filtered
// table is a no-op.
func (t *ResultTable) FilterControls() *ResultTable {
	out := NewResultTable()
	for _, r := range t.records {
		if !r.IsControl {
			out.records = append(out.records, r)
		}
	}
	return out
}

// VariableRows returns the rows belonging to one variable, in table order
func (t *ResultTable) VariableRows(key core.VariableKey) []CoefficientRecord {
	var out []CoefficientRecord
	for _, r := range t.records {
		if r.Variable == key {
			out = append(out, r)
		}
	}
	return out
}

// SelectVariables keeps only rows whose variable appears in the given
// list, preserving table order.
func (t *ResultTable) SelectVariables(keys []core.VariableKey) *ResultTable {
	want := make(map[core.VariableKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := NewResultTable()
	for _, r := range t.records {
		if _, ok := want[r.Variable]; ok {
			out.records = append(out.records, r)
		}
	}
	return out
}

// SortColumn names a sortable column of the table
type SortColumn string

const (
	SortByVariable SortColumn = "variable"
	SortByHR       SortColumn = "hr"
	SortByPValue   SortColumn = "p_value"
	SortByN        SortColumn = "n"
	SortByNEvents  SortColumn = "n_events"
)

// SortBy returns a new table sorted by the given column, ascending.
// The sort is stable: ties keep their original insertion order.
func (t *ResultTable) SortBy(column SortColumn) (*ResultTable, error) {
	var less func(a, b CoefficientRecord) bool
	switch column {
	case SortByVariable:
		less = func(a, b CoefficientRecord) bool { return a.Variable < b.Variable }
	case SortByHR:
		less = func(a, b CoefficientRecord) bool { return a.HR < b.HR }
	case SortByPValue:
		less = func(a, b CoefficientRecord) bool { return a.PValue < b.PValue }
	case SortByN:
		less = func(a, b CoefficientRecord) bool { return a.N < b.N }
	case SortByNEvents:
		less = func(a, b CoefficientRecord) bool { return a.NEvents < b.NEvents }
	default:
		return nil, fmt.Errorf("unknown sort column %q", column)
	}

	out := NewResultTable()
	out.records = t.Records()
	sort.SliceStable(out.records, func(i, j int) bool {
		return less(out.records[i], out.records[j])
	})
	return out, nil
}

// Equal reports whether two tables hold identical rows in identical order.
// Sequential and parallel runs over the same inputs must compare equal.
func (t *ResultTable) Equal(other *ResultTable) bool {
	if other == nil || len(t.records) != len(other.records) {
		return false
	}
	for i := range t.records {
		if t.records[i] != other.records[i] {
			return false
		}
	}
	return true
}
