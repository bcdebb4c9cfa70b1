// Package optimization implements the factor replication optimizer: a
// quadratic program mapping target factor exposures to long-only portfolio
// weights on the simplex.
package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ReplicationOptimizer finds non-negative weights summing to 1 that minimize
// the squared deviation between the weighted-portfolio factor exposure and a
// target exposure vector.
//
// The simplex constraint is handled with a penalty term and bounds
// projection. Any solver failure (error, non-converged status, or an empty
// candidate set) yields "no solution" (ok=false) rather than an error: the
// caller is expected to fall back to equal weighting.
type ReplicationOptimizer struct {
	log zerolog.Logger
}

// NewReplicationOptimizer creates a replication optimizer.
func NewReplicationOptimizer(log zerolog.Logger) *ReplicationOptimizer {
	return &ReplicationOptimizer{log: log.With().Str("service", "optimization").Logger()}
}

// Optimize solves
//
//	minimize   ‖Xᵀw - target‖²
//	subject to Σw = 1, w ≥ 0
//
// where X rows are the candidate tickers' factor loadings. The target vector
// is assembled from targetWeights in the table's factor order; factors absent
// from the map default to 0. Returns ticker-keyed fractional weights and
// whether a solution was found.
func (o *ReplicationOptimizer) Optimize(tickers []string, factors []string, loadings map[string][]float64, targetWeights map[string]float64) (map[string]float64, bool) {
	n := len(tickers)
	if n == 0 {
		return nil, false
	}

	k := len(factors)
	x := mat.NewDense(n, k, nil)
	for i, ticker := range tickers {
		row, ok := loadings[ticker]
		if !ok || len(row) != k {
			return nil, false
		}
		x.SetRow(i, row)
	}

	target := make([]float64, k)
	for j, factor := range factors {
		target[j] = targetWeights[factor]
	}

	penaltyWeight := 1000.0

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			wProj := projectToSimplexBounds(w)

			obj := 0.0
			for j := 0; j < k; j++ {
				var exposure float64
				for i := 0; i < n; i++ {
					exposure += wProj[i] * x.At(i, j)
				}
				dev := exposure - target[j]
				obj += dev * dev
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += wProj[i]
			}
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

			return obj
		},
		Grad: func(grad, w []float64) {
			wProj := projectToSimplexBounds(w)

			// residual per factor: xᵀw - target
			residual := make([]float64, k)
			for j := 0; j < k; j++ {
				for i := 0; i < n; i++ {
					residual[j] += wProj[i] * x.At(i, j)
				}
				residual[j] -= target[j]
			}

			for i := 0; i < n; i++ {
				grad[i] = 0
				for j := 0; j < k; j++ {
					grad[i] += 2 * residual[j] * x.At(i, j)
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += wProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		// Try with a gradient-free method before giving up
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil || !converged(result.Status) {
			o.log.Warn().Err(err).Int("candidates", n).Msg("Replication QP did not converge, signalling no solution")
			return nil, false
		}
	}

	// Project the final iterate to bounds and renormalize onto the simplex.
	wFinal := projectToSimplexBounds(result.X)
	sum := 0.0
	for _, w := range wFinal {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) {
		return nil, false
	}

	weights := make(map[string]float64, n)
	for i, ticker := range tickers {
		weights[ticker] = math.Max(0, wFinal[i]/sum)
	}
	return weights, true
}

// Allocate scales the optimizer's fractional weights by a currency budget.
func (o *ReplicationOptimizer) Allocate(tickers []string, factors []string, loadings map[string][]float64, targetWeights map[string]float64, budget float64) (map[string]float64, bool) {
	weights, ok := o.Optimize(tickers, factors, loadings, targetWeights)
	if !ok {
		return nil, false
	}
	allocations := make(map[string]float64, len(weights))
	for ticker, weight := range weights {
		allocations[ticker] = weight * budget
	}
	return allocations, true
}

// converged accepts the statuses gonum reports for a usable minimum.
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	default:
		return false
	}
}

// projectToSimplexBounds clamps each weight to [0, 1].
func projectToSimplexBounds(w []float64) []float64 {
	proj := make([]float64, len(w))
	for i, v := range w {
		proj[i] = math.Max(0, math.Min(1, v))
	}
	return proj
}
