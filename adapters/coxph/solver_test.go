package coxph

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"survbatch/domain/core"
	"survbatch/ports"
)

// synthCohort draws an n-subject cohort with one covariate whose true
// log-hazard effect is beta: exponential event times scaled by exp(beta*x)
// with independent exponential censoring.
func synthCohort(seed int64, n int, beta float64) *ports.DesignMatrix {
	rng := rand.New(rand.NewSource(seed))
	design := &ports.DesignMatrix{
		Terms:  []ports.DesignTerm{{Variable: "x"}},
		X:      make([][]float64, n),
		Time:   make([]float64, n),
		Status: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		design.X[i] = []float64{x}
		event := rng.ExpFloat64() / (0.1 * math.Exp(beta*x))
		censor := rng.ExpFloat64() / 0.05
		if event <= censor {
			design.Time[i] = event
			design.Status[i] = true
		} else {
			design.Time[i] = censor
			design.Status[i] = false
		}
	}
	return design
}

// TestFitRecoversEffectSign tests estimation on synthetic cohorts: the
// solver must converge and recover at least the direction of the effect
func TestFitRecoversEffectSign(t *testing.T) {
	solver := NewSolver()

	tests := []struct {
		name string
		beta float64
	}{
		{"harmful covariate", 0.8},
		{"protective covariate", -0.8},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			design := synthCohort(42, 400, test.beta)
			fit, err := solver.Fit(context.Background(), design)
			if err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			if fit.Iterations == 0 || fit.Iterations >= defaultMaxIterations {
				t.Errorf("Suspicious iteration count: %d", fit.Iterations)
			}
			if math.Signbit(fit.Beta[0]) != math.Signbit(test.beta) {
				t.Errorf("Estimated beta %g has wrong sign (true %g)", fit.Beta[0], test.beta)
			}
			if math.Abs(fit.Beta[0]-test.beta) > 0.5 {
				t.Errorf("Estimated beta %g too far from true %g", fit.Beta[0], test.beta)
			}
			if fit.SE[0] <= 0 || fit.SE[0] > 0.5 {
				t.Errorf("Implausible standard error %g for n=400", fit.SE[0])
			}
			if math.IsNaN(fit.LogLik) || fit.LogLik >= 0 {
				t.Errorf("Implausible log-likelihood %g", fit.LogLik)
			}
		})
	}
}

// TestFitNullEffect tests that a covariate with no true effect estimates
// near zero
func TestFitNullEffect(t *testing.T) {
	design := synthCohort(7, 500, 0)
	fit, err := NewSolver().Fit(context.Background(), design)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if math.Abs(fit.Beta[0]) > 4*fit.SE[0]+0.05 {
		t.Errorf("Null covariate estimated at %g (se %g)", fit.Beta[0], fit.SE[0])
	}
}

// TestFitCenteringInvariance tests that shifting a covariate by a large
// constant leaves the estimate unchanged
func TestFitCenteringInvariance(t *testing.T) {
	a := synthCohort(13, 300, 0.5)
	b := synthCohort(13, 300, 0.5)
	for i := range b.X {
		b.X[i][0] += 1000
	}

	fitA, err := NewSolver().Fit(context.Background(), a)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	fitB, err := NewSolver().Fit(context.Background(), b)
	if err != nil {
		t.Fatalf("Shifted fit failed: %v", err)
	}
	if math.Abs(fitA.Beta[0]-fitB.Beta[0]) > 1e-6 {
		t.Errorf("Shift changed the estimate: %g vs %g", fitA.Beta[0], fitB.Beta[0])
	}
}

// TestFitDegenerateInputs tests the error taxonomy on inputs estimation
// cannot serve
func TestFitDegenerateInputs(t *testing.T) {
	solver := NewSolver()

	t.Run("empty design", func(t *testing.T) {
		_, err := solver.Fit(context.Background(), &ports.DesignMatrix{})
		if !errors.Is(err, core.ErrNoConvergence) {
			t.Errorf("Expected ErrNoConvergence, got %v", err)
		}
	})

	t.Run("all censored", func(t *testing.T) {
		design := synthCohort(3, 50, 0.5)
		for i := range design.Status {
			design.Status[i] = false
		}
		_, err := solver.Fit(context.Background(), design)
		if !errors.Is(err, core.ErrNoEvents) {
			t.Errorf("Expected ErrNoEvents, got %v", err)
		}
	})

	t.Run("constant covariate", func(t *testing.T) {
		design := synthCohort(5, 50, 0)
		for i := range design.X {
			design.X[i][0] = 1
		}
		// Constant column centers to zero: the information matrix is
		// singular and the solve must refuse.
		_, err := solver.Fit(context.Background(), design)
		if !errors.Is(err, core.ErrNoConvergence) {
			t.Errorf("Expected ErrNoConvergence, got %v", err)
		}
	})

	t.Run("iteration budget", func(t *testing.T) {
		design := synthCohort(9, 200, 0.8)
		strict := NewSolverWithLimits(1, 0)
		if _, err := strict.Fit(context.Background(), design); !errors.Is(err, core.ErrNoConvergence) {
			t.Errorf("Expected ErrNoConvergence with a one-iteration budget, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		design := synthCohort(11, 100, 0.3)
		if _, err := solver.Fit(ctx, design); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

// TestFitDeterministic tests that repeated fits over the same design are
// bit-identical
func TestFitDeterministic(t *testing.T) {
	design := synthCohort(21, 250, 0.4)
	a, err := NewSolver().Fit(context.Background(), design)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	b, err := NewSolver().Fit(context.Background(), design)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if a.Beta[0] != b.Beta[0] || a.SE[0] != b.SE[0] || a.LogLik != b.LogLik {
		t.Error("Repeated fits differ")
	}
}
