package aggregator

import (
	"math"
	"testing"
)

func TestWeiszfeld_SinglePointShortCircuits(t *testing.T) {
	p := []float32{1, 2, 3}
	median, iters := Weiszfeld([][]float32{p}, DefaultMaxIter, DefaultEps)

	if iters != 0 {
		t.Errorf("expected 0 iterations for a single point, got %d", iters)
	}
	for i, v := range median {
		if v != p[i] {
			t.Errorf("expected median[%d]=%v, got %v", i, p[i], v)
		}
	}
}

func TestWeiszfeld_IdenticalPointsConverge(t *testing.T) {
	p := []float32{0.3, -1.2, 4.5}
	points := [][]float32{p, p, p, p}

	median, _ := Weiszfeld(points, DefaultMaxIter, DefaultEps)

	for i, v := range median {
		if math.Abs(float64(v-p[i])) > 1e-3 {
			t.Errorf("expected median[%d]≈%v, got %v", i, p[i], v)
		}
	}
}

func TestWeiszfeld_KnownGeometricMedian(t *testing.T) {
	// {[0,0], [1,0], [0,1]} → median ≈ [0.2113, 0.2113], i.e. (3-√3)/6
	points := [][]float32{{0, 0}, {1, 0}, {0, 1}}

	median, iters := Weiszfeld(points, DefaultMaxIter, DefaultEps)

	if iters == 0 {
		t.Fatalf("expected at least one iteration")
	}
	want := float32(0.2113)
	for _, v := range median {
		if math.Abs(float64(v-want)) > 0.01 {
			t.Errorf("expected component ≈%v, got %v", want, v)
		}
	}
}

func TestWeiszfeld_ByzantineResilience(t *testing.T) {
	// three honest points plus a gross outlier.
	honest := [][]float32{{0, 0}, {1, 0}, {0, 1}}
	points := append(append([][]float32{}, honest...), []float32{1000, 1000})

	median, _ := Weiszfeld(points, DefaultMaxIter, DefaultEps)

	outlierDist := l2Distance(median, points[3])

	maxHonestDist := float32(0)
	for _, p := range honest {
		d := l2Distance(median, p)
		if d > maxHonestDist {
			maxHonestDist = d
		}
	}

	if outlierDist <= 10*maxHonestDist {
		t.Errorf("expected outlier distance (%v) to exceed 10x max honest distance (%v)", outlierDist, 10*maxHonestDist)
	}
}

func TestWeiszfeld_FiniteOutputForFiniteInput(t *testing.T) {
	points := [][]float32{{1, 2, 3}, {-4, 5, -6}, {7, -8, 9}, {0.5, 0.25, -0.75}}

	median, _ := Weiszfeld(points, DefaultMaxIter, DefaultEps)

	if !isFinite(median) {
		t.Errorf("expected finite output, got %v", median)
	}
	if len(median) != 3 {
		t.Errorf("expected dimension 3, got %d", len(median))
	}
}
