package testkit

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// Generator produces deterministic synthetic survival cohorts for tests.
// Event times follow an exponential baseline scaled by exp(linear
// predictor), with independent exponential censoring, so covariates with
// positive declared effects genuinely shorten survival.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator with a fixed seed
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// CatSpec declares one synthetic categorical covariate: its level names
// and a per-level log-hazard offset (Effects[0] is the reference and
// should be zero).
type CatSpec struct {
	Levels  []string
	Effects []float64
}

// baseline and censoring rates tuned for roughly 60-70% observed events
const (
	baselineRate  = 0.1
	censoringRate = 0.05
)

// SurvivalTable builds an n-row table with "time" and "status" outcome
// columns plus the declared covariates. Continuous covariates are
// standard normal draws with the given log-hazard effect; categorical
// covariates are uniform over their levels. Covariate names are visited
// in sorted order so a seed fully determines the table.
func (g *Generator) SurvivalTable(n int, continuous map[string]float64, categorical map[string]CatSpec) *dataset.Table {
	table := dataset.NewTable(n)

	contNames := sortedKeys(continuous)
	catNames := make([]string, 0, len(categorical))
	for name := range categorical {
		catNames = append(catNames, name)
	}
	sort.Strings(catNames)

	contValues := make(map[string][]float64, len(contNames))
	for _, name := range contNames {
		values := make([]float64, n)
		for i := range values {
			values[i] = g.rng.NormFloat64()
		}
		contValues[name] = values
	}
	catCodes := make(map[string][]int, len(catNames))
	for _, name := range catNames {
		codes := make([]int, n)
		for i := range codes {
			codes[i] = g.rng.Intn(len(categorical[name].Levels))
		}
		catCodes[name] = codes
	}

	times := make([]float64, n)
	status := make([]bool, n)
	for i := 0; i < n; i++ {
		eta := 0.0
		for _, name := range contNames {
			eta += continuous[name] * contValues[name][i]
		}
		for _, name := range catNames {
			eta += categorical[name].Effects[catCodes[name][i]]
		}
		eventTime := g.exponential(baselineRate * math.Exp(eta))
		censorTime := g.exponential(censoringRate)
		if eventTime <= censorTime {
			times[i] = eventTime
			status[i] = true
		} else {
			times[i] = censorTime
			status[i] = false
		}
	}

	mustAdd(table.AddContinuous("time", times))
	mustAdd(table.AddLogical("status", status))
	for _, name := range contNames {
		mustAdd(table.AddContinuous(core.VariableKey(name), contValues[name]))
	}
	for _, name := range catNames {
		spec := categorical[name]
		col := &dataset.Column{
			Key:    core.VariableKey(name),
			Type:   dataset.TypeCategorical,
			Levels: spec.Levels,
			Codes:  catCodes[name],
		}
		mustAdd(table.AddColumn(col))
	}
	return table
}

// exponential draws from Exp(rate) using the seeded rng
func (g *Generator) exponential(rate float64) float64 {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return -math.Log(u) / rate
}

// PokeMissing replaces a fraction of a continuous column's cells with NaN
func (g *Generator) PokeMissing(table *dataset.Table, key core.VariableKey, fraction float64) {
	col, ok := table.Column(key)
	if !ok {
		return
	}
	for i := range col.Values {
		if g.rng.Float64() < fraction {
			col.Values[i] = math.NaN()
		}
	}
}

// Pattern builds categorical cells with exact per-level counts, in level
// order: counts[i] consecutive cells of levels[i]. Handy for grouped
// tests needing one deliberately thin partition.
func Pattern(levels []string, counts []int) []string {
	var cells []string
	for i, level := range levels {
		for j := 0; j < counts[i]; j++ {
			cells = append(cells, level)
		}
	}
	return cells
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mustAdd(err error) {
	if err != nil {
		panic(err)
	}
}

// ============================================================================
// FAKES
// ============================================================================

// StubSolver returns canned output or a canned error, for driver tests
// that do not care about estimation.
type StubSolver struct {
	Err error
}

var _ ports.SolverPort = (*StubSolver)(nil)

// Fit returns deterministic per-term estimates derived from term position
func (s *StubSolver) Fit(_ context.Context, design *ports.DesignMatrix) (*ports.SolverFit, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	p := len(design.Terms)
	beta := make([]float64, p)
	se := make([]float64, p)
	for i := range beta {
		beta[i] = 0.1 * float64(i+1)
		se[i] = 0.05
	}
	return &ports.SolverFit{Beta: beta, SE: se, LogLik: -1, Iterations: 1}, nil
}

// FailingStore rejects every write, for store-integrity tests
type FailingStore struct {
	Err error
}

var _ ports.ModelStore = (*FailingStore)(nil)

func (s *FailingStore) Put(context.Context, *survival.FittedModel) error {
	return s.Err
}

func (s *FailingStore) Get(_ context.Context, candidate core.VariableKey) (*survival.FittedModel, error) {
	return nil, core.ErrModelNotFound
}

func (s *FailingStore) Keys() []core.VariableKey { return nil }

func (s *FailingStore) Ref(core.VariableKey) (string, bool) { return "", false }
