package ports

import (
	"context"

	"survbatch/domain/core"
)

// DesignMatrix is the numeric model-matrix form of one specification over
// the complete rows of a dataset: one column per expanded term (a
// continuous variable contributes one column, a categorical variable with
// k levels contributes k-1 dummy columns against its reference level).
type DesignMatrix struct {
	Terms  []DesignTerm // column metadata, one per design column
	X      [][]float64  // row-major, len(X) == n, len(X[i]) == len(Terms)
	Time   []float64    // survival/censoring time per row
	Status []bool       // true = event observed, false = censored
}

// DesignTerm describes one column of a design matrix
type DesignTerm struct {
	Variable  core.VariableKey
	Level     string // "" for continuous/logical terms
	IsControl bool
}

// N returns the row count
func (d *DesignMatrix) N() int { return len(d.X) }

// NEvents counts observed events
func (d *DesignMatrix) NEvents() int {
	n := 0
	for _, s := range d.Status {
		if s {
			n++
		}
	}
	return n
}

// SolverFit is the raw estimation output on the log-hazard scale. The fit
// engine, not the solver, converts to hazard ratios and p-values.
type SolverFit struct {
	Beta       []float64 // coefficient per design term
	SE         []float64 // standard error per design term
	LogLik     float64
	Iterations int
}

// SolverPort is the external proportional-hazards estimator. The batch
// pipeline treats it as an already-validated black box: it either returns
// an estimate for every design column or an error (typically
// core.ErrNoConvergence wrapped with detail).
type SolverPort interface {
	Fit(ctx context.Context, design *DesignMatrix) (*SolverFit, error)
}
