package survival

import (
	"fmt"

	"survbatch/domain/core"
)

// BuildSpecs produces one ModelSpec per candidate, holding the shared
// control set constant across the iteration. A name appearing in both
// lists is legitimate (a variable may be a control for its siblings and a
// candidate in its own right), so overlap is resolved per spec by removing
// the candidate from that spec's controls rather than failing.
//
// The single-variable convenience path is just a one-element candidate
// list; there is no separate code path.
func BuildSpecs(covariates, controls []core.VariableKey, timeCol, statusCol core.VariableKey) ([]ModelSpec, error) {
	if len(covariates) == 0 {
		return nil, core.ErrNoCandidates
	}
	if timeCol == "" {
		return nil, fmt.Errorf("%w: time column name is empty", core.ErrInvalidOptions)
	}
	if statusCol == "" {
		return nil, fmt.Errorf("%w: status column name is empty", core.ErrInvalidOptions)
	}

	specs := make([]ModelSpec, 0, len(covariates))
	for _, candidate := range covariates {
		spec := ModelSpec{
			Candidate:    candidate,
			Controls:     controlsWithout(controls, candidate),
			TimeColumn:   timeCol,
			StatusColumn: statusCol,
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// controlsWithout copies the control list minus the candidate, preserving
// order. The shared slice is never mutated: specs from one builder call
// may be fitted concurrently.
func controlsWithout(controls []core.VariableKey, candidate core.VariableKey) []core.VariableKey {
	out := make([]core.VariableKey, 0, len(controls))
	for _, c := range controls {
		if c != candidate {
			out = append(out, c)
		}
	}
	return out
}
