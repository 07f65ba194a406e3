package coxph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"survbatch/domain/core"
	"survbatch/ports"
)

// Solver estimates proportional-hazards coefficients by Newton iteration
// on the Breslow partial likelihood. It is consumed through
// ports.SolverPort; the batch pipeline never depends on this package
// directly.
type Solver struct {
	maxIterations int
	tolerance     float64
}

// Solver iteration bounds. Tolerance is on the relative change of the
// partial log-likelihood between Newton steps.
const (
	defaultMaxIterations = 30
	defaultTolerance     = 1e-9

	// betaBound flags a diverging coefficient path (perfect separation or
	// a monotone likelihood) before exp() overflows.
	betaBound = 500.0
)

// NewSolver creates a solver with default convergence settings
func NewSolver() *Solver {
	return &Solver{maxIterations: defaultMaxIterations, tolerance: defaultTolerance}
}

// NewSolverWithLimits creates a solver with explicit iteration settings
func NewSolverWithLimits(maxIterations int, tolerance float64) *Solver {
	return &Solver{maxIterations: maxIterations, tolerance: tolerance}
}

var _ ports.SolverPort = (*Solver)(nil)

// Fit estimates log-hazard coefficients for the given design matrix.
// Returns core.ErrNoConvergence (wrapped) when the Newton path diverges,
// the information matrix is singular, or the iteration budget runs out.
func (s *Solver) Fit(ctx context.Context, design *ports.DesignMatrix) (*ports.SolverFit, error) {
	n := design.N()
	p := len(design.Terms)
	if n == 0 || p == 0 {
		return nil, fmt.Errorf("%w: empty design matrix", core.ErrNoConvergence)
	}
	if design.NEvents() == 0 {
		return nil, core.ErrNoEvents
	}

	// Center columns; centering leaves the coefficients unchanged but
	// keeps exp(eta) in a safe numeric range.
	x := centerColumns(design.X, p)

	// Rows ordered by descending time so risk-set sums accumulate by a
	// single forward pass.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return design.Time[order[a]] > design.Time[order[b]]
	})

	beta := make([]float64, p)
	logLik := math.Inf(-1)
	var iterations int

	for iter := 0; iter < s.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations = iter + 1

		ll, grad, info, err := s.evaluate(x, design.Time, design.Status, order, beta)
		if err != nil {
			return nil, err
		}

		step, err := solveStep(info, grad, p)
		if err != nil {
			return nil, err
		}

		// Step-halving keeps the likelihood monotone when a full Newton
		// step overshoots.
		next := make([]float64, p)
		halvings := 0
		for {
			for j := range next {
				next[j] = beta[j] + step[j]
			}
			nll, _, _, err := s.evaluate(x, design.Time, design.Status, order, next)
			if err != nil {
				return nil, err
			}
			if nll >= ll || halvings >= 10 {
				ll = nll
				break
			}
			for j := range step {
				step[j] /= 2
			}
			halvings++
		}
		copy(beta, next)

		for _, b := range beta {
			if math.Abs(b) > betaBound || math.IsNaN(b) {
				return nil, fmt.Errorf("%w: coefficient path diverged", core.ErrNoConvergence)
			}
		}

		if iter > 0 && math.Abs(ll-logLik) < s.tolerance*(math.Abs(ll)+s.tolerance) {
			logLik = ll
			se, err := s.standardErrors(x, design.Time, design.Status, order, beta, p)
			if err != nil {
				return nil, err
			}
			return &ports.SolverFit{Beta: beta, SE: se, LogLik: logLik, Iterations: iterations}, nil
		}
		logLik = ll
	}

	return nil, fmt.Errorf("%w: no convergence in %d iterations", core.ErrNoConvergence, s.maxIterations)
}

// evaluate computes the Breslow partial log-likelihood, its gradient, and
// the observed information matrix at beta. Rows are visited in descending
// time order so the risk set at each event time is the running prefix.
func (s *Solver) evaluate(x [][]float64, times []float64, status []bool, order []int, beta []float64) (float64, []float64, *mat.SymDense, error) {
	p := len(beta)
	var ll float64
	grad := make([]float64, p)
	info := mat.NewSymDense(p, nil)

	// Running risk-set sums: s0 = sum exp(eta), s1 = sum exp(eta)*x,
	// s2 = sum exp(eta)*x*x'.
	var s0 float64
	s1 := make([]float64, p)
	s2 := mat.NewSymDense(p, nil)

	i := 0
	n := len(order)
	for i < n {
		t := times[order[i]]

		// Fold every row tied at this time into the risk set first; ties
		// share one denominator (Breslow).
		j := i
		for j < n && times[order[j]] == t {
			row := order[j]
			eta := 0.0
			for q := 0; q < p; q++ {
				eta += beta[q] * x[row][q]
			}
			w := math.Exp(eta)
			if math.IsInf(w, 0) || math.IsNaN(w) {
				return 0, nil, nil, fmt.Errorf("%w: risk weight overflow", core.ErrNoConvergence)
			}
			s0 += w
			for q := 0; q < p; q++ {
				s1[q] += w * x[row][q]
				for r := q; r < p; r++ {
					s2.SetSym(q, r, s2.At(q, r)+w*x[row][q]*x[row][r])
				}
			}
			j++
		}

		// Then contribute each event at this time against the full set.
		for k := i; k < j; k++ {
			row := order[k]
			if !status[row] {
				continue
			}
			eta := 0.0
			for q := 0; q < p; q++ {
				eta += beta[q] * x[row][q]
			}
			ll += eta - math.Log(s0)
			for q := 0; q < p; q++ {
				mq := s1[q] / s0
				grad[q] += x[row][q] - mq
				for r := q; r < p; r++ {
					mr := s1[r] / s0
					info.SetSym(q, r, info.At(q, r)+s2.At(q, r)/s0-mq*mr)
				}
			}
		}
		i = j
	}

	return ll, grad, info, nil
}

// standardErrors inverts the observed information at the optimum
func (s *Solver) standardErrors(x [][]float64, times []float64, status []bool, order []int, beta []float64, p int) ([]float64, error) {
	_, _, info, err := s.evaluate(x, times, status, order, beta)
	if err != nil {
		return nil, err
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return nil, fmt.Errorf("%w: singular information matrix", core.ErrNoConvergence)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: information matrix inversion failed", core.ErrNoConvergence)
	}

	se := make([]float64, p)
	for q := 0; q < p; q++ {
		v := inv.At(q, q)
		if v <= 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: non-positive coefficient variance", core.ErrNoConvergence)
		}
		se[q] = math.Sqrt(v)
	}
	return se, nil
}

// solveStep solves info * step = grad for the Newton direction
func solveStep(info *mat.SymDense, grad []float64, p int) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return nil, fmt.Errorf("%w: singular information matrix", core.ErrNoConvergence)
	}
	g := mat.NewVecDense(p, grad)
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		return nil, fmt.Errorf("%w: newton step solve failed", core.ErrNoConvergence)
	}
	out := make([]float64, p)
	for q := 0; q < p; q++ {
		out[q] = step.AtVec(q)
	}
	return out, nil
}

// centerColumns subtracts each column's mean, returning a fresh matrix
func centerColumns(x [][]float64, p int) [][]float64 {
	n := len(x)
	means := make([]float64, p)
	for _, row := range x {
		for q := 0; q < p; q++ {
			means[q] += row[q]
		}
	}
	for q := 0; q < p; q++ {
		means[q] /= float64(n)
	}
	out := make([][]float64, n)
	for i, row := range x {
		out[i] = make([]float64, p)
		for q := 0; q < p; q++ {
			out[i][q] = row[q] - means[q]
		}
	}
	return out
}
