package fit

import (
	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// buildDesign translates one structured specification into the numeric
// model matrix the solver expects, over the given (already complete) rows.
// This is the single boundary where variable names become expression
// columns; nothing else in the pipeline manipulates formula strings.
//
// Expansion rules: a continuous or logical variable contributes one
// column; a categorical variable contributes one dummy column per
// non-reference level observed in the subset, in declared level order.
// Candidate terms come first, then controls in control-list order; the
// result-table row order follows directly from this.
func buildDesign(table *dataset.Table, spec survival.ModelSpec, rows []int) (*ports.DesignMatrix, error) {
	design := &ports.DesignMatrix{}

	if err := appendTerms(design, table, spec.Candidate, rows, false); err != nil {
		return nil, err
	}
	for _, control := range spec.Controls {
		if err := appendTerms(design, table, control, rows, true); err != nil {
			return nil, err
		}
	}

	timeCol, ok := table.Column(spec.TimeColumn)
	if !ok {
		return nil, core.NewColumnError(spec.TimeColumn)
	}
	statusCol, ok := table.Column(spec.StatusColumn)
	if !ok {
		return nil, core.NewColumnError(spec.StatusColumn)
	}

	design.Time = make([]float64, len(rows))
	design.Status = make([]bool, len(rows))
	for i, r := range rows {
		design.Time[i] = timeCol.Values[r]
		design.Status[i] = statusCol.Values[r] != 0
	}
	return design, nil
}

// appendTerms expands one variable into design columns
func appendTerms(design *ports.DesignMatrix, table *dataset.Table, key core.VariableKey, rows []int, isControl bool) error {
	col, ok := table.Column(key)
	if !ok {
		return core.NewColumnError(key)
	}

	if len(design.X) == 0 {
		design.X = make([][]float64, len(rows))
		for i := range design.X {
			design.X[i] = make([]float64, 0, 4)
		}
	}

	if col.Type != dataset.TypeCategorical {
		design.Terms = append(design.Terms, ports.DesignTerm{Variable: key, IsControl: isControl})
		for i, r := range rows {
			design.X[i] = append(design.X[i], col.Values[r])
		}
		return nil
	}

	// Dummy-code against the declared reference level, emitting columns
	// only for levels that actually occur in the subset.
	observed := make(map[int]bool)
	for _, r := range rows {
		observed[col.Codes[r]] = true
	}
	for code := 1; code < len(col.Levels); code++ {
		if !observed[code] {
			continue
		}
		design.Terms = append(design.Terms, ports.DesignTerm{
			Variable:  key,
			Level:     col.Levels[code],
			IsControl: isControl,
		})
		for i, r := range rows {
			v := 0.0
			if col.Codes[r] == code {
				v = 1.0
			}
			design.X[i] = append(design.X[i], v)
		}
	}
	return nil
}
