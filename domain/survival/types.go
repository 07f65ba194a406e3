package survival

import (
	"fmt"

	"survbatch/domain/core"
)

// ============================================================================
// STABLE PRIMITIVES (Canonical, never change)
// ============================================================================

// ModelSpec describes one proportional-hazards regression: outcome
// (time, status) regressed on one candidate variable plus a fixed set of
// control variables. Specs are immutable; one is built per candidate and
// consumed exactly once by the fit engine. Column existence is checked
// lazily at fit time, so a missing column is a per-spec failure rather
// than a global abort.
// INVARIANT: Candidate never appears in Controls.
type ModelSpec struct {
	Candidate    core.VariableKey   `json:"candidate"`
	Controls     []core.VariableKey `json:"controls"`
	TimeColumn   core.VariableKey   `json:"time_column"`
	StatusColumn core.VariableKey   `json:"status_column"`
}

// Columns returns every column the spec references, candidate first,
// then controls, then time and status.
func (s ModelSpec) Columns() []core.VariableKey {
	cols := make([]core.VariableKey, 0, len(s.Controls)+3)
	cols = append(cols, s.Candidate)
	cols = append(cols, s.Controls...)
	cols = append(cols, s.TimeColumn, s.StatusColumn)
	return cols
}

// Hash returns a deterministic fingerprint of the specification
func (s ModelSpec) Hash() core.Hash {
	return core.ComputeSpecHash(s.Candidate, s.Controls, s.TimeColumn, s.StatusColumn)
}

// CoefficientRecord is one flat row of a result table: one coefficient of
// one fitted model, reported on the exponentiated (hazard ratio) scale.
// A categorical variable with k levels yields k-1 records, one per
// non-reference level; a continuous variable yields one record with an
// empty Level. Records are immutable once produced.
type CoefficientRecord struct {
	Variable  core.VariableKey `json:"variable"`
	Level     string           `json:"level,omitempty"`
	HR        float64          `json:"hr"`
	CILow     float64          `json:"ci_low"`
	CIHigh    float64          `json:"ci_high"`
	PValue    float64          `json:"p_value"`
	N         int              `json:"n"`
	NEvents   int              `json:"n_events"`
	IsControl bool             `json:"is_control"`
}

// Term renders the record's design-matrix term name, e.g. "age" or
// "stage=III".
func (r CoefficientRecord) Term() string {
	if r.Level == "" {
		return r.Variable.String()
	}
	return fmt.Sprintf("%s=%s", r.Variable, r.Level)
}

// Coefficient is one estimated model term on the log-hazard scale, as
// returned by the solver before normalization to hazard ratios.
type Coefficient struct {
	Variable core.VariableKey `json:"variable"`
	Level    string           `json:"level,omitempty"`
	Beta     float64          `json:"beta"`
	SE       float64          `json:"se"`
	IsControl bool            `json:"is_control"`
}

// FittedModel is the retained output of one successful fit. It carries
// everything needed to reproduce the result-table rows for its candidate
// and to hand to an external renderer. The JSON form is the native
// serialization used by the on-disk model store.
type FittedModel struct {
	Candidate    core.VariableKey   `json:"candidate"`
	Controls     []core.VariableKey `json:"controls"`
	TimeColumn   core.VariableKey   `json:"time_column"`
	StatusColumn core.VariableKey   `json:"status_column"`
	SpecHash     core.Hash          `json:"spec_hash"`
	Coefficients []Coefficient      `json:"coefficients"`
	N            int                `json:"n"`
	NEvents      int                `json:"n_events"`
	LogLik       float64            `json:"log_lik"`
	Iterations   int                `json:"iterations"`
	FittedAt     core.Timestamp     `json:"fitted_at"`
}

// CandidateCoefficients returns only the candidate's own coefficients
func (m *FittedModel) CandidateCoefficients() []Coefficient {
	var out []Coefficient
	for _, c := range m.Coefficients {
		if !c.IsControl {
			out = append(out, c)
		}
	}
	return out
}

// ============================================================================
// FAILURES
// ============================================================================

// FailureCode classifies why one specification could not be fitted
type FailureCode string

const (
	FailMissingColumn    FailureCode = "missing_column"
	FailZeroVariance     FailureCode = "zero_variance"
	FailInsufficientRows FailureCode = "insufficient_rows"
	FailNoEvents         FailureCode = "no_events"
	FailNoConvergence    FailureCode = "no_convergence"
	FailStoreWrite       FailureCode = "store_write_failed"
)

// FitFailure records one specification that could not be fitted. Failures
// never abort a run; they accumulate alongside the result table so the
// caller can inspect them and retry with adjusted parameters.
type FitFailure struct {
	Candidate core.VariableKey `json:"candidate"`
	Code      FailureCode      `json:"code"`
	Detail    string           `json:"detail,omitempty"`
}

func (f FitFailure) Error() string {
	return fmt.Sprintf("%s: %s (%s)", f.Candidate, f.Code, f.Detail)
}

// FitOutcome is the normalized result of fitting one specification:
// either a model with its flattened records, or a failure.
type FitOutcome struct {
	Spec    ModelSpec
	Model   *FittedModel
	Records []CoefficientRecord
	Failure *FitFailure
}

// OK reports whether the fit succeeded
func (o FitOutcome) OK() bool { return o.Failure == nil }

// ============================================================================
// GROUPED RESULTS
// ============================================================================

// GroupResult is the outcome of re-fitting one candidate within one
// partition of the dataset. Entries are independent: a degenerate fit in
// one group never disturbs its siblings.
type GroupResult struct {
	Group    string            `json:"group"`
	NRows    int               `json:"n_rows"`
	Table    *ResultTable      `json:"table,omitempty"`
	Failures []FitFailure      `json:"failures,omitempty"`
	ModelRef string            `json:"model_ref,omitempty"`
}

// OK reports whether the group produced at least one fitted row
func (g GroupResult) OK() bool {
	return g.Table != nil && g.Table.Len() > 0
}

// GroupedResult maps group values to per-group results, preserving
// first-observed group order.
type GroupedResult struct {
	GroupVar core.VariableKey `json:"group_var"`
	Groups   []GroupResult    `json:"groups"`
}

// Successes counts groups that produced fitted rows
func (g *GroupedResult) Successes() int {
	n := 0
	for _, gr := range g.Groups {
		if gr.OK() {
			n++
		}
	}
	return n
}

// Group looks up one group's result by value
func (g *GroupedResult) Group(value string) (GroupResult, bool) {
	for _, gr := range g.Groups {
		if gr.Group == value {
			return gr, true
		}
	}
	return GroupResult{}, false
}
