package ports

import (
	"context"

	"survbatch/domain/core"
	"survbatch/domain/survival"
)

// ResultRepository provides append-only persistence for result tables
// keyed by run, so batch outputs can be retrieved, filtered, and regrouped
// later without re-fitting.
type ResultRepository interface {
	// SaveResults stores every row of a run's result table
	SaveResults(ctx context.Context, runID core.RunID, table *survival.ResultTable) error

	// GetResults loads a run's rows in their original table order
	GetResults(ctx context.Context, runID core.RunID) (*survival.ResultTable, error)

	// SaveFailures stores a run's per-spec failure list
	SaveFailures(ctx context.Context, runID core.RunID, failures []survival.FitFailure) error

	// GetFailures loads a run's failure list
	GetFailures(ctx context.Context, runID core.RunID) ([]survival.FitFailure, error)
}
