package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound         = errors.New("resource not found")
	ErrModelNotFound    = fmt.Errorf("%w: fitted model", ErrNotFound)
	ErrColumnNotFound   = fmt.Errorf("%w: column", ErrNotFound)
	ErrRunNotFound      = fmt.Errorf("%w: run", ErrNotFound)

	// Configuration errors - fatal to the whole call, nothing executes
	ErrNoCandidates     = errors.New("candidate variable list is empty")
	ErrInvalidOptions   = errors.New("invalid run options")
	ErrMissingTimeCol   = errors.New("time column not present in dataset")
	ErrMissingStatusCol = errors.New("status column not present in dataset")
	ErrInvalidTimeCol   = errors.New("time column is not continuous")
	ErrInvalidStatusCol = errors.New("status column is not a binary indicator")

	// Per-spec fit errors - recorded against the variable, run continues
	ErrNoEvents      = errors.New("no events in analyzed subset")
	ErrNoConvergence = errors.New("solver failed to converge")

	// Run-level errors
	ErrAllSpecsFailed = errors.New("every model specification failed")

	// Store errors
	ErrStoreWrite = errors.New("model store write failed")
	ErrStoreRead  = errors.New("model store read failed")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewColumnError(key VariableKey) error {
	return fmt.Errorf("%w: %s", ErrColumnNotFound, key)
}

func NewFitError(candidate VariableKey, cause error) error {
	return fmt.Errorf("fit failed for %s: %w", candidate, cause)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfigurationError reports whether err is fatal to the whole call.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoCandidates) ||
		errors.Is(err, ErrInvalidOptions) ||
		errors.Is(err, ErrMissingTimeCol) ||
		errors.Is(err, ErrMissingStatusCol) ||
		errors.Is(err, ErrInvalidTimeCol) ||
		errors.Is(err, ErrInvalidStatusCol)
}
