package ports

import (
	"context"

	"survbatch/domain/core"
	"survbatch/domain/survival"
)

// ModelStore holds fitted model objects keyed by candidate variable.
// Implementations decide where the payload lives: an in-memory map for
// small batches, or run-scoped files on disk for large ones, in which
// case Get loads lazily. Requesting a never-fitted name is a reportable
// lookup error (core.ErrModelNotFound), never a silent empty result.
type ModelStore interface {
	// Put stores one fitted model under its candidate name. Disk-backed
	// stores derive the file name deterministically from the candidate so
	// writes are idempotent and order-independent.
	Put(ctx context.Context, model *survival.FittedModel) error

	// Get retrieves one model by candidate name
	Get(ctx context.Context, candidate core.VariableKey) (*survival.FittedModel, error)

	// Keys lists stored candidate names in insertion order
	Keys() []core.VariableKey

	// Ref returns an opaque reference (an in-memory key or a file path)
	// for a stored model, usable across process restarts for disk stores.
	Ref(candidate core.VariableKey) (string, bool)
}

// SelectModels retrieves a subset of stored models by name. The returned
// map holds every requested model; any name absent from the store fails
// the whole selection with a lookup error naming the variable.
func SelectModels(ctx context.Context, store ModelStore, candidates []core.VariableKey) (map[core.VariableKey]*survival.FittedModel, error) {
	out := make(map[core.VariableKey]*survival.FittedModel, len(candidates))
	for _, key := range candidates {
		m, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = m
	}
	return out, nil
}
