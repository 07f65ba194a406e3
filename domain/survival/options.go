package survival

import (
	"fmt"

	"survbatch/domain/core"
)

// ExecutionMode selects how a batch run schedules its fits
type ExecutionMode string

const (
	// ExecSequential runs every fit on the calling goroutine, in order.
	ExecSequential ExecutionMode = "sequential"
	// ExecParallel partitions the candidate list into contiguous chunks of
	// BatchSize and fits each chunk concurrently. Output order is identical
	// to the sequential mode regardless of scheduling.
	ExecParallel ExecutionMode = "parallel"
)

// ModelRetention selects what happens to fitted model objects after their
// records are extracted. This is a deliberate memory/reproducibility
// tradeoff: large batches should not accumulate model objects in memory.
type ModelRetention string

const (
	// RetainNone discards each model once its records are flattened.
	RetainNone ModelRetention = "none"
	// RetainMemory keeps models in an in-memory mapping keyed by candidate.
	RetainMemory ModelRetention = "memory"
	// RetainDisk serializes each model to a uniquely named file under a
	// run-scoped directory and keeps only the lookup key.
	RetainDisk ModelRetention = "disk"
)

// RunOptions carries every per-call toggle for a batch run. Options are
// validated once at call entry, never threaded ad hoc through layers.
type RunOptions struct {
	Retention       ModelRetention
	ModelDir        string // root directory for RetainDisk, ignored otherwise
	Execution       ExecutionMode
	BatchSize       int     // candidates per parallel work unit
	MinCompleteRows int     // minimum complete rows a spec needs to fit
	ConfidenceLevel float64 // CI coverage, e.g. 0.95
}

// Defaults applied by Validate
const (
	DefaultBatchSize       = 25
	DefaultMinCompleteRows = 10
	DefaultConfidence      = 0.95
)

// DefaultRunOptions returns spec defaults: sequential execution, models
// discarded.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Retention:       RetainNone,
		Execution:       ExecSequential,
		BatchSize:       DefaultBatchSize,
		MinCompleteRows: DefaultMinCompleteRows,
		ConfidenceLevel: DefaultConfidence,
	}
}

// Validate normalizes zero values to defaults and rejects configurations
// that can never run. Validation errors are fatal to the whole call.
func (o *RunOptions) Validate() error {
	if o.Retention == "" {
		o.Retention = RetainNone
	}
	switch o.Retention {
	case RetainNone, RetainMemory, RetainDisk:
	default:
		return fmt.Errorf("%w: unknown retention %q", core.ErrInvalidOptions, o.Retention)
	}
	if o.Retention == RetainDisk && o.ModelDir == "" {
		return fmt.Errorf("%w: disk retention requires a model directory", core.ErrInvalidOptions)
	}

	if o.Execution == "" {
		o.Execution = ExecSequential
	}
	switch o.Execution {
	case ExecSequential, ExecParallel:
	default:
		return fmt.Errorf("%w: unknown execution mode %q", core.ErrInvalidOptions, o.Execution)
	}

	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive, got %d", core.ErrInvalidOptions, o.BatchSize)
	}

	if o.MinCompleteRows == 0 {
		o.MinCompleteRows = DefaultMinCompleteRows
	}
	if o.MinCompleteRows < 3 {
		return fmt.Errorf("%w: minimum complete rows must be at least 3, got %d", core.ErrInvalidOptions, o.MinCompleteRows)
	}

	if o.ConfidenceLevel == 0 {
		o.ConfidenceLevel = DefaultConfidence
	}
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		return fmt.Errorf("%w: confidence level must be in (0,1), got %g", core.ErrInvalidOptions, o.ConfidenceLevel)
	}
	return nil
}
