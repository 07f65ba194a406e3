package modelstore

import (
	"context"
	"fmt"
	"sync"

	"survbatch/domain/core"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// MemoryStore keeps fitted models in an in-memory mapping keyed by
// candidate name. Suited to small batches where the caller wants the
// model objects back without a disk round trip. Safe for concurrent use
// by parallel workers.
type MemoryStore struct {
	mu     sync.Mutex
	order  []core.VariableKey
	models map[core.VariableKey]*survival.FittedModel
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[core.VariableKey]*survival.FittedModel)}
}

var _ ports.ModelStore = (*MemoryStore)(nil)

// Put stores one model under its candidate name
func (s *MemoryStore) Put(_ context.Context, model *survival.FittedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[model.Candidate]; !exists {
		s.order = append(s.order, model.Candidate)
	}
	s.models[model.Candidate] = model
	return nil
}

// Get retrieves one model; a never-stored name is a lookup error
func (s *MemoryStore) Get(_ context.Context, candidate core.VariableKey) (*survival.FittedModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[candidate]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, candidate)
	}
	return m, nil
}

// Keys lists stored candidates in insertion order
func (s *MemoryStore) Keys() []core.VariableKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.VariableKey, len(s.order))
	copy(out, s.order)
	return out
}

// Ref returns the candidate name itself; memory stores have no external
// address.
func (s *MemoryStore) Ref(candidate core.VariableKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.models[candidate]
	return candidate.String(), ok
}
