package app

import (
	"context"
	"errors"
	"fmt"

	"survbatch/adapters/modelstore"
	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal"
	"survbatch/internal/batch"
	apperrors "survbatch/internal/errors"
	"survbatch/internal/fit"
	"survbatch/ports"
)

// BatchService is the library entry point: it wires the fit engine, the
// batch driver, model retention, and optional result persistence behind
// one call surface.
type BatchService struct {
	driver    *batch.Driver
	modelRoot string
	results   ports.ResultRepository // nil disables persistence
	log       *internal.Logger
}

// NewBatchService creates a service backed by the given solver.
// modelRoot is the default directory for disk-retained models, used when
// RunOptions does not name one. results may be nil.
func NewBatchService(solver ports.SolverPort, modelRoot string, results ports.ResultRepository) *BatchService {
	engine := fit.NewEngine(solver)
	driver := batch.NewDriver(engine, storeFactory(modelRoot))
	return &BatchService{
		driver:    driver,
		modelRoot: modelRoot,
		results:   results,
		log:       internal.DefaultLogger.With("batch"),
	}
}

// storeFactory maps the retention policy to a concrete model store
func storeFactory(defaultRoot string) batch.StoreFactory {
	return func(runID core.RunID, opts survival.RunOptions) (ports.ModelStore, error) {
		switch opts.Retention {
		case survival.RetainMemory:
			return modelstore.NewMemoryStore(), nil
		case survival.RetainDisk:
			root := opts.ModelDir
			if root == "" {
				root = defaultRoot
			}
			return modelstore.NewDiskStore(root, runID)
		default:
			return nil, fmt.Errorf("%w: no store for retention %q", core.ErrInvalidOptions, opts.Retention)
		}
	}
}

// RunBatch fits one model per candidate and returns the unified result
// table. When a result repository is configured, rows and failures are
// persisted under the run ID, including the failure list of a run in
// which every spec failed; persistence problems are logged, never fatal,
// since the in-memory result is already complete.
func (s *BatchService) RunBatch(ctx context.Context, req batch.RunRequest) (*batch.RunResult, error) {
	if req.Options.Retention == survival.RetainDisk && req.Options.ModelDir == "" {
		req.Options.ModelDir = s.modelRoot
	}
	result, err := s.driver.Run(ctx, req)
	if result != nil {
		s.persist(ctx, result)
	}
	return result, coded(err)
}

// RunSingle is the one-candidate convenience path; it shares every code
// path with RunBatch.
func (s *BatchService) RunSingle(ctx context.Context, table *dataset.Table, candidate core.VariableKey, controls []core.VariableKey, timeCol, statusCol core.VariableKey, opts survival.RunOptions) (*batch.RunResult, error) {
	return s.RunBatch(ctx, batch.RunRequest{
		Table:        table,
		Covariates:   []core.VariableKey{candidate},
		Controls:     controls,
		TimeColumn:   timeCol,
		StatusColumn: statusCol,
		Options:      opts,
	})
}

// RunGrouped re-fits one candidate per subgroup of the grouping variable
func (s *BatchService) RunGrouped(ctx context.Context, req batch.GroupedRequest) (*batch.GroupedRunResult, error) {
	if req.Options.Retention == survival.RetainDisk && req.Options.ModelDir == "" {
		req.Options.ModelDir = s.modelRoot
	}
	result, err := s.driver.RunGrouped(ctx, req)
	return result, coded(err)
}

// SelectModels retrieves stored models by candidate name. A name never
// fitted in the run is a lookup error, independent of the original run's
// outcome.
func (s *BatchService) SelectModels(ctx context.Context, store ports.ModelStore, candidates []core.VariableKey) (map[core.VariableKey]*survival.FittedModel, error) {
	if store == nil {
		return nil, apperrors.LookupError(fmt.Errorf("%w: run retained no models", core.ErrModelNotFound))
	}
	models, err := ports.SelectModels(ctx, store, candidates)
	return models, coded(err)
}

// ResultsForRun reloads a persisted run's table without re-fitting
func (s *BatchService) ResultsForRun(ctx context.Context, runID core.RunID) (*survival.ResultTable, error) {
	if s.results == nil {
		return nil, apperrors.LookupError(fmt.Errorf("%w: no result repository configured", core.ErrRunNotFound))
	}
	table, err := s.results.GetResults(ctx, runID)
	if err != nil {
		if core.IsNotFoundError(err) {
			return nil, apperrors.LookupError(err)
		}
		return nil, apperrors.DatabaseError(err)
	}
	return table, nil
}

// coded maps domain sentinels onto the coded error surface so callers
// can switch on apperrors.GetCode without unpicking the sentinel chain.
// The sentinels stay reachable through errors.Is.
func coded(err error) error {
	if err == nil || apperrors.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, core.ErrAllSpecsFailed):
		return apperrors.AllSpecsFailed(err)
	case core.IsConfigurationError(err):
		return apperrors.InvalidConfiguration(err)
	case core.IsNotFoundError(err):
		return apperrors.LookupError(err)
	case errors.Is(err, core.ErrStoreWrite) || errors.Is(err, core.ErrStoreRead):
		return apperrors.StoreIntegrity(err)
	default:
		return err
	}
}

func (s *BatchService) persist(ctx context.Context, result *batch.RunResult) {
	if s.results == nil {
		return
	}
	if err := s.results.SaveResults(ctx, result.RunID, result.Table); err != nil {
		s.log.Warn("run %s: result persistence failed: %v", result.RunID, err)
		return
	}
	if len(result.Failures) > 0 {
		if err := s.results.SaveFailures(ctx, result.RunID, result.Failures); err != nil {
			s.log.Warn("run %s: failure persistence failed: %v", result.RunID, err)
		}
	}
}
