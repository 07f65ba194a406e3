package dataset

import (
	"github.com/montanaflynn/stats"

	"survbatch/domain/core"
)

// ColumnProfile summarizes one column's observed data characteristics.
// The fit engine profiles every model term over its analyzed rows for
// the zero-variance guard; callers can use profiles to pre-screen
// candidate lists.
type ColumnProfile struct {
	Key         core.VariableKey `json:"key"`
	Type        ColumnType       `json:"type"`
	N           int              `json:"n"`
	Missing     int              `json:"missing"`
	Mean        float64          `json:"mean,omitempty"`
	Variance    float64          `json:"variance,omitempty"`
	Min         float64          `json:"min,omitempty"`
	Max         float64          `json:"max,omitempty"`
	LevelCounts map[string]int   `json:"level_counts,omitempty"`
}

// Profile computes a summary for one column over every row
func (t *Table) Profile(key core.VariableKey) (*ColumnProfile, error) {
	rows := make([]int, t.nRows)
	for i := range rows {
		rows[i] = i
	}
	return t.ProfileRows(key, rows)
}

// ProfileRows computes a summary for one column restricted to the given
// rows. The fit engine profiles each model term over its analyzed subset
// before building a design matrix.
func (t *Table) ProfileRows(key core.VariableKey, rows []int) (*ColumnProfile, error) {
	c, ok := t.columns[key]
	if !ok {
		return nil, core.NewColumnError(key)
	}

	p := &ColumnProfile{Key: key, Type: c.Type}

	if c.Type == TypeCategorical {
		p.LevelCounts = make(map[string]int, len(c.Levels))
		for _, r := range rows {
			if c.Codes[r] < 0 {
				p.Missing++
				continue
			}
			p.N++
			p.LevelCounts[c.LevelName(c.Codes[r])]++
		}
		return p, nil
	}

	observed := make([]float64, 0, len(rows))
	for _, r := range rows {
		if isNaN(c.Values[r]) {
			p.Missing++
			continue
		}
		observed = append(observed, c.Values[r])
	}
	p.N = len(observed)
	if p.N == 0 {
		return p, nil
	}

	p.Mean, _ = stats.Mean(observed)
	p.Min, _ = stats.Min(observed)
	p.Max, _ = stats.Max(observed)
	if p.N > 1 {
		p.Variance, _ = stats.SampleVariance(observed)
	}
	return p, nil
}

// Degenerate reports whether the profiled column cannot act as a model
// term: fewer than two observed categorical levels, or no variation
// among the observed numeric values.
func (p *ColumnProfile) Degenerate() bool {
	if p.Type == TypeCategorical {
		return len(p.LevelCounts) < 2
	}
	return p.N < 2 || p.Variance == 0
}

