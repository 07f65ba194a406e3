package fit

import (
	"context"
	"math"
	"testing"

	"survbatch/adapters/coxph"
	"survbatch/domain/core"
	"survbatch/domain/dataset"
	"survbatch/domain/survival"
	"survbatch/internal/testkit"
)

func fitSpec(candidate string, controls ...string) survival.ModelSpec {
	return survival.ModelSpec{
		Candidate:    core.VariableKey(candidate),
		Controls:     core.VariableKeys(controls),
		TimeColumn:   "time",
		StatusColumn: "status",
	}
}

// TestFitContinuousCandidate tests the full estimation path on synthetic
// data with a genuinely harmful continuous covariate
func TestFitContinuousCandidate(t *testing.T) {
	gen := testkit.NewGenerator(42)
	table := gen.SurvivalTable(200, map[string]float64{"risk": 0.8}, nil)

	engine := NewEngine(coxph.NewSolver())
	outcome := engine.Fit(context.Background(), table, fitSpec("risk"), survival.DefaultRunOptions())

	if !outcome.OK() {
		t.Fatalf("Fit failed: %v", outcome.Failure)
	}
	if len(outcome.Records) != 1 {
		t.Fatalf("Continuous candidate should yield 1 record, got %d", len(outcome.Records))
	}

	r := outcome.Records[0]
	if r.Variable != "risk" || r.Level != "" || r.IsControl {
		t.Errorf("Record misattributed: %+v", r)
	}
	if r.HR <= 1 {
		t.Errorf("Expected HR above 1 for a hazard-increasing covariate, got %g", r.HR)
	}
	if !(r.CILow < r.HR && r.HR < r.CIHigh) {
		t.Errorf("Point estimate outside its own interval: %g (%g, %g)", r.HR, r.CILow, r.CIHigh)
	}
	if r.PValue < 0 || r.PValue > 1 {
		t.Errorf("p-value out of range: %g", r.PValue)
	}
	if r.N != 200 || r.NEvents == 0 || r.NEvents > r.N {
		t.Errorf("Implausible counts: N=%d NEvents=%d", r.N, r.NEvents)
	}

	m := outcome.Model
	if m == nil {
		t.Fatal("Successful fit should carry a model")
	}
	if m.Candidate != "risk" || m.SpecHash.IsEmpty() || m.Iterations == 0 {
		t.Errorf("Model metadata incomplete: %+v", m)
	}
	if math.IsNaN(m.LogLik) || math.IsInf(m.LogLik, 0) {
		t.Errorf("Non-finite log-likelihood: %g", m.LogLik)
	}
}

// TestFitCategoricalExpansion tests dummy expansion: k declared levels
// yield k-1 records in declared level order, against the reference level
func TestFitCategoricalExpansion(t *testing.T) {
	gen := testkit.NewGenerator(7)
	table := gen.SurvivalTable(240, nil, map[string]testkit.CatSpec{
		"stage": {Levels: []string{"I", "II", "III"}, Effects: []float64{0, 0.4, 0.9}},
	})

	engine := NewEngine(&testkit.StubSolver{})
	outcome := engine.Fit(context.Background(), table, fitSpec("stage"), survival.DefaultRunOptions())

	if !outcome.OK() {
		t.Fatalf("Fit failed: %v", outcome.Failure)
	}
	if len(outcome.Records) != 2 {
		t.Fatalf("3-level candidate should yield 2 records, got %d", len(outcome.Records))
	}
	if outcome.Records[0].Level != "II" || outcome.Records[1].Level != "III" {
		t.Errorf("Levels out of declared order: %s, %s",
			outcome.Records[0].Level, outcome.Records[1].Level)
	}
	for _, r := range outcome.Records {
		if r.Variable != "stage" || r.IsControl {
			t.Errorf("Record misattributed: %+v", r)
		}
	}
}

// TestFitControlsTagged tests that control coefficients are reported but
// tagged, with the candidate's terms leading the record list
func TestFitControlsTagged(t *testing.T) {
	gen := testkit.NewGenerator(11)
	table := gen.SurvivalTable(150, map[string]float64{"age": 0.3, "bmi": 0.0}, nil)

	engine := NewEngine(&testkit.StubSolver{})
	outcome := engine.Fit(context.Background(), table, fitSpec("age", "bmi"), survival.DefaultRunOptions())

	if !outcome.OK() {
		t.Fatalf("Fit failed: %v", outcome.Failure)
	}
	if len(outcome.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(outcome.Records))
	}
	if outcome.Records[0].Variable != "age" || outcome.Records[0].IsControl {
		t.Errorf("Candidate term not first: %+v", outcome.Records[0])
	}
	if outcome.Records[1].Variable != "bmi" || !outcome.Records[1].IsControl {
		t.Errorf("Control term not tagged: %+v", outcome.Records[1])
	}
	if got := outcome.Model.CandidateCoefficients(); len(got) != 1 || got[0].Variable != "age" {
		t.Errorf("CandidateCoefficients wrong: %+v", got)
	}
}

// TestFitFailureModes tests that every degenerate input degrades into a
// per-spec failure with the matching code, never a panic or abort
func TestFitFailureModes(t *testing.T) {
	engine := NewEngine(&testkit.StubSolver{})
	opts := survival.DefaultRunOptions()

	t.Run("missing column", func(t *testing.T) {
		gen := testkit.NewGenerator(1)
		table := gen.SurvivalTable(50, map[string]float64{"age": 0}, nil)
		outcome := engine.Fit(context.Background(), table, fitSpec("ghost"), opts)
		assertFailure(t, outcome, survival.FailMissingColumn)
		if outcome.Failure.Candidate != "ghost" {
			t.Errorf("Failure names wrong candidate: %s", outcome.Failure.Candidate)
		}
	})

	t.Run("zero variance", func(t *testing.T) {
		gen := testkit.NewGenerator(2)
		table := gen.SurvivalTable(50, map[string]float64{"age": 0}, nil)
		flat := make([]float64, 50)
		for i := range flat {
			flat[i] = 3.5
		}
		if err := table.AddContinuous("flat", flat); err != nil {
			t.Fatal(err)
		}
		outcome := engine.Fit(context.Background(), table, fitSpec("flat"), opts)
		assertFailure(t, outcome, survival.FailZeroVariance)
	})

	t.Run("constant within analyzed subset only", func(t *testing.T) {
		// The candidate varies over the full table but is constant once
		// rows incomplete in a referenced control are dropped.
		gen := testkit.NewGenerator(11)
		table := gen.SurvivalTable(40, map[string]float64{"age": 0}, nil)
		narrow := make([]float64, 40)
		masked := make([]float64, 40)
		for i := range narrow {
			narrow[i] = 2.0
			masked[i] = float64(i)
		}
		narrow[0] = 9.0
		masked[0] = math.NaN()
		if err := table.AddContinuous("narrow", narrow); err != nil {
			t.Fatal(err)
		}
		if err := table.AddContinuous("masked", masked); err != nil {
			t.Fatal(err)
		}
		outcome := engine.Fit(context.Background(), table, fitSpec("narrow", "masked"), opts)
		assertFailure(t, outcome, survival.FailZeroVariance)
		if outcome.Failure.Candidate != "narrow" {
			t.Errorf("Failure names wrong candidate: %s", outcome.Failure.Candidate)
		}
	})

	t.Run("zero variance control", func(t *testing.T) {
		gen := testkit.NewGenerator(3)
		table := gen.SurvivalTable(50, map[string]float64{"age": 0}, nil)
		if err := table.AddContinuous("flat", make([]float64, 50)); err != nil {
			t.Fatal(err)
		}
		outcome := engine.Fit(context.Background(), table, fitSpec("age", "flat"), opts)
		assertFailure(t, outcome, survival.FailZeroVariance)
	})

	t.Run("insufficient rows", func(t *testing.T) {
		gen := testkit.NewGenerator(4)
		table := gen.SurvivalTable(100, map[string]float64{"sparse": 0}, nil)
		gen.PokeMissing(table, "sparse", 0.99)
		outcome := engine.Fit(context.Background(), table, fitSpec("sparse"), opts)
		assertFailure(t, outcome, survival.FailInsufficientRows)
	})

	t.Run("no events", func(t *testing.T) {
		table := dataset.NewTable(20)
		times := make([]float64, 20)
		ages := make([]float64, 20)
		for i := range times {
			times[i] = float64(i + 1)
			ages[i] = float64(40 + i)
		}
		if err := table.AddContinuous("time", times); err != nil {
			t.Fatal(err)
		}
		if err := table.AddLogical("status", make([]bool, 20)); err != nil {
			t.Fatal(err)
		}
		if err := table.AddContinuous("age", ages); err != nil {
			t.Fatal(err)
		}
		outcome := engine.Fit(context.Background(), table, fitSpec("age"), opts)
		assertFailure(t, outcome, survival.FailNoEvents)
	})

	t.Run("solver error", func(t *testing.T) {
		gen := testkit.NewGenerator(5)
		table := gen.SurvivalTable(60, map[string]float64{"age": 0}, nil)
		engine := NewEngine(&testkit.StubSolver{Err: core.ErrNoConvergence})
		outcome := engine.Fit(context.Background(), table, fitSpec("age"), opts)
		assertFailure(t, outcome, survival.FailNoConvergence)
	})
}

// TestFitCompletenessIsPerSpec tests that missingness in an unreferenced
// column never shrinks the analyzed subset
func TestFitCompletenessIsPerSpec(t *testing.T) {
	gen := testkit.NewGenerator(9)
	table := gen.SurvivalTable(120, map[string]float64{"age": 0.2, "noisy": 0.0}, nil)
	gen.PokeMissing(table, "noisy", 0.5)

	engine := NewEngine(&testkit.StubSolver{})
	outcome := engine.Fit(context.Background(), table, fitSpec("age"), survival.DefaultRunOptions())

	if !outcome.OK() {
		t.Fatalf("Fit failed: %v", outcome.Failure)
	}
	if outcome.Records[0].N != 120 {
		t.Errorf("Expected all 120 rows analyzed, got %d", outcome.Records[0].N)
	}
}

// TestFitConfidenceLevelWidensInterval tests that a higher confidence
// level strictly widens the reported interval
func TestFitConfidenceLevelWidensInterval(t *testing.T) {
	gen := testkit.NewGenerator(13)
	table := gen.SurvivalTable(150, map[string]float64{"risk": 0.5}, nil)
	engine := NewEngine(coxph.NewSolver())

	narrow := survival.DefaultRunOptions()
	narrow.ConfidenceLevel = 0.90
	wide := survival.DefaultRunOptions()
	wide.ConfidenceLevel = 0.99

	a := engine.Fit(context.Background(), table, fitSpec("risk"), narrow)
	b := engine.Fit(context.Background(), table, fitSpec("risk"), wide)
	if !a.OK() || !b.OK() {
		t.Fatalf("Fits failed: %v / %v", a.Failure, b.Failure)
	}

	na, wa := a.Records[0], b.Records[0]
	if math.Abs(na.HR-wa.HR) > 1e-12 {
		t.Errorf("Point estimate should not depend on confidence level: %g vs %g", na.HR, wa.HR)
	}
	if wa.CIHigh-wa.CILow <= na.CIHigh-na.CILow {
		t.Errorf("99%% interval (%g,%g) not wider than 90%% (%g,%g)",
			wa.CILow, wa.CIHigh, na.CILow, na.CIHigh)
	}
}

func assertFailure(t *testing.T, outcome survival.FitOutcome, code survival.FailureCode) {
	t.Helper()
	if outcome.OK() {
		t.Fatal("Expected a failure outcome")
	}
	if outcome.Failure.Code != code {
		t.Errorf("Expected failure code %s, got %s (%s)",
			code, outcome.Failure.Code, outcome.Failure.Detail)
	}
	if outcome.Model != nil {
		t.Error("Failed fit should carry no model")
	}
}
