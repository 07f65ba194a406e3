package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal/batch"
	apperrors "survbatch/internal/errors"
	"survbatch/internal/testkit"
)

// recordingRepository captures persisted runs in memory
type recordingRepository struct {
	saved    map[core.RunID]*survival.ResultTable
	failures map[core.RunID][]survival.FitFailure
	saveErr  error
	getErr   error
}

func newRecordingRepository() *recordingRepository {
	return &recordingRepository{
		saved:    make(map[core.RunID]*survival.ResultTable),
		failures: make(map[core.RunID][]survival.FitFailure),
	}
}

func (r *recordingRepository) SaveResults(_ context.Context, runID core.RunID, table *survival.ResultTable) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved[runID] = table
	return nil
}

func (r *recordingRepository) GetResults(_ context.Context, runID core.RunID) (*survival.ResultTable, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	t, ok := r.saved[runID]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return t, nil
}

func (r *recordingRepository) SaveFailures(_ context.Context, runID core.RunID, failures []survival.FitFailure) error {
	r.failures[runID] = failures
	return nil
}

func (r *recordingRepository) GetFailures(_ context.Context, runID core.RunID) ([]survival.FitFailure, error) {
	return r.failures[runID], nil
}

func serviceCohort() *dataset.Table {
	gen := testkit.NewGenerator(47)
	return gen.SurvivalTable(120, map[string]float64{"age": 0.3, "bmi": 0.0}, nil)
}

// TestRunBatchPersistsResults tests the full service path: fit, collect,
// persist, reload
func TestRunBatchPersistsResults(t *testing.T) {
	repo := newRecordingRepository()
	svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), repo)

	result, err := svc.RunBatch(context.Background(), batch.RunRequest{
		Table:        serviceCohort(),
		Covariates:   core.VariableKeys([]string{"age", "bmi"}),
		TimeColumn:   "time",
		StatusColumn: "status",
		Options:      survival.DefaultRunOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Table.Len())

	reloaded, err := svc.ResultsForRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.True(t, result.Table.Equal(reloaded), "persisted table should round-trip")
}

// TestRunBatchPersistenceIsBestEffort tests that a broken repository
// never fails a completed run
func TestRunBatchPersistenceIsBestEffort(t *testing.T) {
	repo := newRecordingRepository()
	repo.saveErr = errors.New("connection refused")
	svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), repo)

	result, err := svc.RunBatch(context.Background(), batch.RunRequest{
		Table:        serviceCohort(),
		Covariates:   core.VariableKeys([]string{"age"}),
		TimeColumn:   "time",
		StatusColumn: "status",
		Options:      survival.DefaultRunOptions(),
	})
	require.NoError(t, err, "persistence failure must not fail the run")
	assert.Equal(t, 1, result.Table.Len())
}

// TestRunSingleSharesBatchPath tests the one-candidate convenience call
func TestRunSingleSharesBatchPath(t *testing.T) {
	svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), nil)
	table := serviceCohort()

	single, err := svc.RunSingle(context.Background(), table, "age",
		core.VariableKeys([]string{"bmi"}), "time", "status", survival.DefaultRunOptions())
	require.NoError(t, err)

	batched, err := svc.RunBatch(context.Background(), batch.RunRequest{
		Table:        table,
		Covariates:   core.VariableKeys([]string{"age"}),
		Controls:     core.VariableKeys([]string{"bmi"}),
		TimeColumn:   "time",
		StatusColumn: "status",
		Options:      survival.DefaultRunOptions(),
	})
	require.NoError(t, err)
	assert.True(t, single.Table.Equal(batched.Table))
}

// TestRetentionPolicies tests the service-level store wiring for each
// retention mode
func TestRetentionPolicies(t *testing.T) {
	table := serviceCohort()
	modelRoot := t.TempDir()
	svc := NewBatchService(&testkit.StubSolver{}, modelRoot, nil)

	run := func(opts survival.RunOptions) *batch.RunResult {
		result, err := svc.RunBatch(context.Background(), batch.RunRequest{
			Table:        table,
			Covariates:   core.VariableKeys([]string{"age"}),
			TimeColumn:   "time",
			StatusColumn: "status",
			Options:      opts,
		})
		require.NoError(t, err)
		return result
	}

	t.Run("none", func(t *testing.T) {
		opts := survival.DefaultRunOptions()
		result := run(opts)
		assert.Nil(t, result.Models)

		_, err := svc.SelectModels(context.Background(), result.Models, core.VariableKeys([]string{"age"}))
		assert.ErrorIs(t, err, core.ErrModelNotFound,
			"selection from a modelless run must be a lookup error")
	})

	t.Run("memory", func(t *testing.T) {
		opts := survival.DefaultRunOptions()
		opts.Retention = survival.RetainMemory
		result := run(opts)
		require.NotNil(t, result.Models)

		models, err := svc.SelectModels(context.Background(), result.Models, core.VariableKeys([]string{"age"}))
		require.NoError(t, err)
		assert.Equal(t, core.VariableKey("age"), models["age"].Candidate)
	})

	t.Run("disk", func(t *testing.T) {
		opts := survival.DefaultRunOptions()
		opts.Retention = survival.RetainDisk
		// ModelDir left empty: the service's configured root applies.
		result := run(opts)
		require.NotNil(t, result.Models)

		ref, ok := result.Models.Ref("age")
		require.True(t, ok)
		assert.FileExists(t, ref)
	})
}

// TestResultsForRunWithoutRepository tests the unconfigured-database path
func TestResultsForRunWithoutRepository(t *testing.T) {
	svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), nil)
	_, err := svc.ResultsForRun(context.Background(), core.NewRunID())
	assert.ErrorIs(t, err, core.ErrRunNotFound)
	assert.Equal(t, apperrors.CodeLookupError, apperrors.GetCode(err))
}

// TestRunBatchPersistsAllFailedRun tests that a run in which every spec
// failed still leaves its failure list retrievable by run ID
func TestRunBatchPersistsAllFailedRun(t *testing.T) {
	repo := newRecordingRepository()
	svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), repo)

	result, err := svc.RunBatch(context.Background(), batch.RunRequest{
		Table:        serviceCohort(),
		Covariates:   core.VariableKeys([]string{"ghost"}),
		TimeColumn:   "time",
		StatusColumn: "status",
		Options:      survival.DefaultRunOptions(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAllSpecsFailed)
	require.NotNil(t, result)

	failures, ferr := repo.GetFailures(context.Background(), result.RunID)
	require.NoError(t, ferr)
	require.Len(t, failures, 1)
	assert.Equal(t, survival.FailMissingColumn, failures[0].Code)
}

// TestServiceErrorCodes tests the coded error surface callers switch on
func TestServiceErrorCodes(t *testing.T) {
	t.Run("all specs failed", func(t *testing.T) {
		svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), nil)
		_, err := svc.RunBatch(context.Background(), batch.RunRequest{
			Table:        serviceCohort(),
			Covariates:   core.VariableKeys([]string{"ghost"}),
			TimeColumn:   "time",
			StatusColumn: "status",
			Options:      survival.DefaultRunOptions(),
		})
		assert.Equal(t, apperrors.CodeAllSpecsFailed, apperrors.GetCode(err))
		assert.ErrorIs(t, err, core.ErrAllSpecsFailed)
	})

	t.Run("configuration", func(t *testing.T) {
		svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), nil)
		_, err := svc.RunBatch(context.Background(), batch.RunRequest{
			Table:        serviceCohort(),
			TimeColumn:   "time",
			StatusColumn: "status",
			Options:      survival.DefaultRunOptions(),
		})
		assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
		assert.ErrorIs(t, err, core.ErrNoCandidates)
	})

	t.Run("model lookup", func(t *testing.T) {
		svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), nil)
		_, err := svc.SelectModels(context.Background(), nil, core.VariableKeys([]string{"age"}))
		assert.Equal(t, apperrors.CodeLookupError, apperrors.GetCode(err))
		assert.ErrorIs(t, err, core.ErrModelNotFound)
	})

	t.Run("repository fault", func(t *testing.T) {
		repo := newRecordingRepository()
		repo.getErr = errors.New("connection reset")
		svc := NewBatchService(&testkit.StubSolver{}, t.TempDir(), repo)
		_, err := svc.ResultsForRun(context.Background(), core.NewRunID())
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetCode(err))
	})
}
