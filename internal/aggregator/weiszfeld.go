// Package aggregator implements the geometric-median aggregation engine:
// Weiszfeld's iterative fixed-point scheme over a client-update point
// cloud, and the per-client distance bookkeeping built on top of it
// (trust scores are derived from those distances by the orchestrator).
//
// Geometric median aggregation
//
// In federated learning the geometric median is a robust aggregation
// strategy: unlike the arithmetic mean it resists a bounded fraction of
// Byzantine (faulty or adversarial) client updates, since a single outlier
// cannot drag the estimate arbitrarily far from the bulk of honest
// clients.
//
// Weiszfeld's scheme (1937): given points x_1..x_n in R^D, iterate
//
//	y_{t+1} = (sum_i w_i * x_i) / (sum_i w_i),  w_i = 1 / ||y_t - x_i||_2
//
// until the update moves less than eps in L2 norm, or max_iter is
// exhausted.
package aggregator

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultMaxIter and DefaultEps are the Weiszfeld iteration defaults.
const (
	DefaultMaxIter = 100
	DefaultEps     = 1e-5
)

// zeroDistanceWeight is the clamp applied when an iterate coincides with a
// data point, preventing divide-by-zero.
const zeroDistanceWeight = 1e12
const zeroDistanceThreshold = 1e-12

// Weiszfeld computes the geometric median of the rows of points (an n×D
// point cloud, one flattened client update per row) via Weiszfeld's
// iteration. It returns the median vector and the number of iterations
// actually performed.
//
// n must be >= 1. When n == 1 the single point is returned immediately
// (the arithmetic mean of one point is itself) with 0 iterations.
func Weiszfeld(points [][]float32, maxIter int, eps float32) ([]float32, int) {
	n := len(points)
	if n == 0 {
		return nil, 0
	}
	if n == 1 {
		return append([]float32(nil), points[0]...), 0
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	if eps <= 0 {
		eps = DefaultEps
	}

	d := len(points[0])
	y := columnMean(points, d)

	for iter := 1; iter <= maxIter; iter++ {
		weights := make([]float64, n)
		for i, p := range points {
			dist := l2Distance(y, p)
			if dist > zeroDistanceThreshold {
				weights[i] = 1.0 / dist
			} else {
				weights[i] = zeroDistanceWeight
			}
		}

		yNew := weightedAverage(points, weights, d)

		shift := l2Distance(yNew, y)
		y = yNew

		if shift < eps {
			return y, iter
		}
	}

	return y, maxIter
}

// columnMean returns the componentwise arithmetic mean of points, each of
// dimension d.
func columnMean(points [][]float32, d int) []float32 {
	sum := make([]float64, d)
	for _, p := range points {
		for i, v := range p {
			sum[i] += float64(v)
		}
	}
	n := float64(len(points))
	out := make([]float32, d)
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out
}

// weightedAverage computes sum_i(weights[i] * points[i]) / sum(weights) in
// float64 to limit accumulation error across many clients, rounding the
// final result down to float32 to match the tensor format's
// single-precision policy.
func weightedAverage(points [][]float32, weights []float64, d int) []float32 {
	sum := make([]float64, d)
	totalWeight := 0.0
	for i, p := range points {
		w := weights[i]
		totalWeight += w
		for j, v := range p {
			sum[j] += w * float64(v)
		}
	}
	out := make([]float32, d)
	for j, s := range sum {
		out[j] = float32(s / totalWeight)
	}
	return out
}

// l2Distance returns the Euclidean distance between two equal-length
// float32 vectors, computed via gonum/floats on a float64 copy for a
// numerically stable reduction.
func l2Distance(a, b []float32) float32 {
	da := toFloat64(a)
	db := toFloat64(b)
	diff := make([]float64, len(da))
	floats.SubTo(diff, da, db)
	return float32(floats.Norm(diff, 2))
}

func toFloat64(a []float32) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = float64(v)
	}
	return out
}

// isFinite reports whether every component of v is a finite float32 — used
// by callers to validate the invariant that Weiszfeld's output stays
// finite for finite inputs.
func isFinite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}
