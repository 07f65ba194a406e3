package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal"
	"survbatch/internal/fit"
	"survbatch/ports"
)

// Driver orchestrates batch fitting: it expands the candidate list into
// specifications, dispatches them through the fit engine under the chosen
// execution strategy, and accumulates the normalized records into one
// result table. The same engine code runs in both execution modes; the
// parallel path only changes scheduling, never fitting.
type Driver struct {
	engine *fit.Engine
	stores StoreFactory
	log    *internal.Logger
}

// StoreFactory builds a model store for one run. Disk-backed factories
// root each run's files under a directory named by the run ID so
// concurrent runs never overwrite each other.
type StoreFactory func(runID core.RunID, opts survival.RunOptions) (ports.ModelStore, error)

// NewDriver creates a batch driver
func NewDriver(engine *fit.Engine, stores StoreFactory) *Driver {
	return &Driver{engine: engine, stores: stores, log: internal.DefaultLogger}
}

// RunRequest carries one batch invocation
type RunRequest struct {
	Table        *dataset.Table
	Covariates   []core.VariableKey
	Controls     []core.VariableKey
	TimeColumn   core.VariableKey
	StatusColumn core.VariableKey
	Options      survival.RunOptions
	RunID        core.RunID // generated when empty
}

// RunResult is the complete output of one batch run. The table reflects
// every successfully fitted variable even when others failed; failures
// are inspectable separately.
type RunResult struct {
	RunID     core.RunID
	Table     *survival.ResultTable
	Models    ports.ModelStore // nil when models are discarded
	Failures  []survival.FitFailure
	RuntimeMs int64
}

// Run executes a batch. Configuration problems (empty candidate list,
// missing time/status columns, bad options) fail the whole call before
// anything is fitted; per-spec problems degrade into the failure list.
// When every spec fails, the accumulated failures are returned together
// with an error wrapping core.ErrAllSpecsFailed.
func (d *Driver) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()

	opts := req.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	specs, err := survival.BuildSpecs(req.Covariates, req.Controls, req.TimeColumn, req.StatusColumn)
	if err != nil {
		return nil, err
	}
	if err := validateOutcome(req.Table, req.TimeColumn, req.StatusColumn); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}

	var store ports.ModelStore
	if opts.Retention != survival.RetainNone {
		store, err = d.stores(runID, opts)
		if err != nil {
			return nil, err
		}
	}

	d.log.Info("run %s: fitting %d candidates (%s, batch size %d)",
		runID, len(specs), opts.Execution, opts.BatchSize)

	var outcomes []survival.FitOutcome
	if opts.Execution == survival.ExecParallel {
		outcomes, err = d.runParallel(ctx, req.Table, specs, opts, store)
	} else {
		outcomes, err = d.runSequential(ctx, req.Table, specs, opts, store)
	}
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:  runID,
		Table:  survival.NewResultTable(),
		Models: store,
	}
	for _, outcome := range outcomes {
		if outcome.OK() {
			result.Table.Append(outcome.Records...)
		} else {
			result.Failures = append(result.Failures, *outcome.Failure)
		}
	}
	result.RuntimeMs = time.Since(start).Milliseconds()

	d.log.Info("run %s: %d rows, %d failures in %dms",
		runID, result.Table.Len(), len(result.Failures), result.RuntimeMs)

	if len(result.Failures) == len(specs) {
		return result, fmt.Errorf("%w: %d of %d", core.ErrAllSpecsFailed, len(result.Failures), len(specs))
	}
	return result, nil
}

// runSequential fits every spec on the calling goroutine, in order
func (d *Driver) runSequential(ctx context.Context, table *dataset.Table, specs []survival.ModelSpec, opts survival.RunOptions, store ports.ModelStore) ([]survival.FitOutcome, error) {
	outcomes := make([]survival.FitOutcome, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, d.fitOne(ctx, table, spec, opts, store))
	}
	return outcomes, nil
}

// runParallel partitions specs into contiguous chunks of BatchSize and
// fits each chunk as one concurrent unit of work. Workers share nothing
// mutable: each receives the read-only table and writes into its own
// outcome slot. Chunk outputs are concatenated in submission order, not
// completion order, so the result table is bit-identical to a sequential
// run over the same inputs.
func (d *Driver) runParallel(ctx context.Context, table *dataset.Table, specs []survival.ModelSpec, opts survival.RunOptions, store ports.ModelStore) ([]survival.FitOutcome, error) {
	chunks := PartitionSpecs(specs, opts.BatchSize)
	outcomes := make([]survival.FitOutcome, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	offset := 0
	for _, chunk := range chunks {
		chunk := chunk
		base := offset
		offset += len(chunk)
		g.Go(func() error {
			for i, spec := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[base+i] = d.fitOne(gctx, table, spec, opts, store)
			}
			return nil
		})
	}
	// Join barrier: no partial results are released before every chunk
	// has finished.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// fitOne runs one spec and applies the model-retention policy. A store
// write failure is a per-spec failure, not a run-fatal condition.
func (d *Driver) fitOne(ctx context.Context, table *dataset.Table, spec survival.ModelSpec, opts survival.RunOptions, store ports.ModelStore) survival.FitOutcome {
	outcome := d.engine.Fit(ctx, table, spec, opts)
	if !outcome.OK() || store == nil {
		outcome.Model = nil // discard immediately when not retained
		return outcome
	}
	if err := store.Put(ctx, outcome.Model); err != nil {
		d.log.Warn("run store: %s: %v", spec.Candidate, err)
		return survival.FitOutcome{
			Spec: spec,
			Failure: &survival.FitFailure{
				Candidate: spec.Candidate,
				Code:      survival.FailStoreWrite,
				Detail:    err.Error(),
			},
		}
	}
	outcome.Model = nil // the store owns the payload from here on
	return outcome
}

// PartitionSpecs splits specs into contiguous chunks of at most size
// elements. Exported for tests that assert work-unit accounting.
func PartitionSpecs(specs []survival.ModelSpec, size int) [][]survival.ModelSpec {
	if size < 1 {
		size = 1
	}
	var chunks [][]survival.ModelSpec
	for start := 0; start < len(specs); start += size {
		end := start + size
		if end > len(specs) {
			end = len(specs)
		}
		chunks = append(chunks, specs[start:end])
	}
	return chunks
}

// validateOutcome checks the dataset invariants known upfront: the time
// and status columns must exist, time must be continuous, and status must
// be binary over its non-missing cells.
func validateOutcome(table *dataset.Table, timeCol, statusCol core.VariableKey) error {
	tc, ok := table.Column(timeCol)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrMissingTimeCol, timeCol)
	}
	if tc.Type == dataset.TypeCategorical {
		return fmt.Errorf("%w: %s is categorical", core.ErrInvalidTimeCol, timeCol)
	}
	sc, ok := table.Column(statusCol)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrMissingStatusCol, statusCol)
	}
	if sc.Type == dataset.TypeCategorical {
		return fmt.Errorf("%w: %s is categorical", core.ErrInvalidStatusCol, statusCol)
	}
	for i, v := range sc.Values {
		if sc.Missing(i) {
			continue
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: %s has value %g at row %d", core.ErrInvalidStatusCol, statusCol, v, i)
		}
	}
	return nil
}
