package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal"
	"survbatch/ports"
)

// Engine adapts the external proportional-hazards solver to the batch
// pipeline: it validates one specification against the dataset, builds the
// design matrix, delegates estimation, and normalizes the raw log-hazard
// output into canonical per-coefficient records on the hazard-ratio scale.
//
// Every failure mode degrades into a FitFailure naming the candidate; the
// engine never aborts a batch.
type Engine struct {
	solver ports.SolverPort
	log    *internal.Logger
}

// NewEngine creates a fit engine backed by the given solver
func NewEngine(solver ports.SolverPort) *Engine {
	return &Engine{solver: solver, log: internal.DefaultLogger}
}

// Fit runs one specification against the dataset and returns the
// normalized outcome. Missing columns, degenerate predictors, thin data,
// and solver non-convergence become per-spec failures.
func (e *Engine) Fit(ctx context.Context, table *dataset.Table, spec survival.ModelSpec, opts survival.RunOptions) survival.FitOutcome {
	fail := func(code survival.FailureCode, detail string) survival.FitOutcome {
		e.log.Warn("fit skipped for %s: %s (%s)", spec.Candidate, code, detail)
		return survival.FitOutcome{
			Spec:    spec,
			Failure: &survival.FitFailure{Candidate: spec.Candidate, Code: code, Detail: detail},
		}
	}

	for _, key := range spec.Columns() {
		if !table.HasColumn(key) {
			return fail(survival.FailMissingColumn, fmt.Sprintf("column %s not in dataset", key))
		}
	}

	// Completeness is per spec: only rows complete in the columns this
	// model references are dropped.
	rows, err := table.CompleteRows(spec.Columns())
	if err != nil {
		return fail(survival.FailMissingColumn, err.Error())
	}
	if len(rows) < opts.MinCompleteRows {
		return fail(survival.FailInsufficientRows,
			fmt.Sprintf("%d complete rows, need at least %d", len(rows), opts.MinCompleteRows))
	}

	for _, key := range append([]core.VariableKey{spec.Candidate}, spec.Controls...) {
		prof, err := table.ProfileRows(key, rows)
		if err != nil {
			return fail(survival.FailMissingColumn, err.Error())
		}
		if prof.Degenerate() {
			return fail(survival.FailZeroVariance, fmt.Sprintf("%s is constant in analyzed subset", key))
		}
	}

	design, err := buildDesign(table, spec, rows)
	if err != nil {
		return fail(survival.FailMissingColumn, err.Error())
	}
	nEvents := design.NEvents()
	if nEvents == 0 {
		return fail(survival.FailNoEvents, "all rows censored in analyzed subset")
	}

	solved, err := e.solver.Fit(ctx, design)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNoEvents):
			return fail(survival.FailNoEvents, err.Error())
		case errors.Is(err, core.ErrNoConvergence):
			return fail(survival.FailNoConvergence, err.Error())
		default:
			return fail(survival.FailNoConvergence, fmt.Sprintf("solver: %v", err))
		}
	}

	return e.normalize(spec, design, solved, len(rows), nEvents, opts.ConfidenceLevel)
}

// normalize converts raw log-hazard estimates into hazard-ratio records
// and the retained model value. Domain convention: HR and CI bounds are
// always reported on the exponentiated scale, never the raw coefficient
// scale.
func (e *Engine) normalize(spec survival.ModelSpec, design *ports.DesignMatrix, solved *ports.SolverFit, n, nEvents int, confidence float64) survival.FitOutcome {
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)

	coefficients := make([]survival.Coefficient, len(design.Terms))
	records := make([]survival.CoefficientRecord, len(design.Terms))
	for i, term := range design.Terms {
		beta := solved.Beta[i]
		se := solved.SE[i]
		coefficients[i] = survival.Coefficient{
			Variable:  term.Variable,
			Level:     term.Level,
			Beta:      beta,
			SE:        se,
			IsControl: term.IsControl,
		}
		records[i] = survival.CoefficientRecord{
			Variable:  term.Variable,
			Level:     term.Level,
			HR:        math.Exp(beta),
			CILow:     math.Exp(beta - z*se),
			CIHigh:    math.Exp(beta + z*se),
			PValue:    waldPValue(beta, se),
			N:         n,
			NEvents:   nEvents,
			IsControl: term.IsControl,
		}
	}

	model := &survival.FittedModel{
		Candidate:    spec.Candidate,
		Controls:     spec.Controls,
		TimeColumn:   spec.TimeColumn,
		StatusColumn: spec.StatusColumn,
		SpecHash:     spec.Hash(),
		Coefficients: coefficients,
		N:            n,
		NEvents:      nEvents,
		LogLik:       solved.LogLik,
		Iterations:   solved.Iterations,
		FittedAt:     core.Now(),
	}

	return survival.FitOutcome{Spec: spec, Model: model, Records: records}
}

// waldPValue computes the two-sided Wald p-value for one coefficient
func waldPValue(beta, se float64) float64 {
	if se <= 0 {
		return 1.0
	}
	zStat := math.Abs(beta / se)
	return 2 * (1 - distuv.UnitNormal.CDF(zStat))
}
