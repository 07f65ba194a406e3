package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"survbatch/domain/core"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// DiskStore persists fitted models as JSON files under one run-scoped
// directory, bounding peak memory during large batches. File names derive
// deterministically from the candidate variable, so writes are idempotent
// and retrieval works in a later process with nothing but the directory.
// Parallel workers write only files they uniquely own, so no file locking
// is needed.
type DiskStore struct {
	dir   string
	mu    sync.Mutex
	order []core.VariableKey
}

// NewDiskStore creates (or reuses) the run directory under root
func NewDiskStore(root string, runID core.RunID) (*DiskStore, error) {
	dir := filepath.Join(root, runID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreWrite, err)
	}
	return &DiskStore{dir: dir}, nil
}

// OpenDiskStore opens an existing run directory for retrieval
func OpenDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

var _ ports.ModelStore = (*DiskStore)(nil)

// Dir returns the run-scoped directory
func (s *DiskStore) Dir() string { return s.dir }

// Put serializes one model to its deterministic file
func (s *DiskStore) Put(_ context.Context, model *survival.FittedModel) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", core.ErrStoreWrite, model.Candidate, err)
	}
	path := s.modelPath(model.Candidate)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrStoreWrite, path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.order {
		if k == model.Candidate {
			return nil
		}
	}
	s.order = append(s.order, model.Candidate)
	return nil
}

// Get loads one model lazily from disk; a missing file is a lookup error
func (s *DiskStore) Get(_ context.Context, candidate core.VariableKey) (*survival.FittedModel, error) {
	data, err := os.ReadFile(s.modelPath(candidate))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, candidate)
		}
		return nil, fmt.Errorf("%w: %s: %v", core.ErrStoreRead, candidate, err)
	}
	var model survival.FittedModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrStoreRead, candidate, err)
	}
	return &model, nil
}

// Keys lists candidates stored through this handle, in insertion order
func (s *DiskStore) Keys() []core.VariableKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.VariableKey, len(s.order))
	copy(out, s.order)
	return out
}

// Ref returns the model's file path when it exists on disk
func (s *DiskStore) Ref(candidate core.VariableKey) (string, bool) {
	path := s.modelPath(candidate)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// modelPath derives the collision-free file name for a candidate: a
// sanitized variable name plus a short content hash of the full name,
// which keeps names readable while disambiguating variables that
// sanitize identically.
func (s *DiskStore) modelPath(candidate core.VariableKey) string {
	name := fmt.Sprintf("%s_%s.json",
		sanitize(candidate.String()),
		core.ComputeVariableHash(candidate).Short(8))
	return filepath.Join(s.dir, name)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
