package aggregator

import (
	"errors"
	"fmt"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// ErrEmptyInput is returned when Aggregate or ComputeDistances is called
// with zero client updates — a caller-contract violation that must bubble
// up rather than degrade silently.
var ErrEmptyInput = errors.New("aggregator: empty input")

// Aggregator drives the flatten → Weiszfeld → unflatten pipeline over a
// batch of client body updates. It is stateless across calls
// except for LastIterations, which is overwritten by every Aggregate call
// and must not be read concurrently with an in-flight call — the
// Aggregator is not reentrant.
type Aggregator struct {
	MaxIter int
	Eps     float32

	// LastIterations records how many Weiszfeld iterations the most
	// recent Aggregate call performed.
	LastIterations int
}

// New returns an Aggregator configured with the defaults.
func New() *Aggregator {
	return &Aggregator{MaxIter: DefaultMaxIter, Eps: DefaultEps}
}

// Aggregate computes the geometric median of updates' shared key set and
// returns it as a NamedTensorMap with the same keys/shapes. All updates
// must share identical keys and shapes; a divergence surfaces as a
// tensor.ShapeMismatchError.
//
// A single update is returned as a deep clone — the geometric median of
// one point is itself.
func (a *Aggregator) Aggregate(updates []*tensor.NamedTensorMap) (*tensor.NamedTensorMap, error) {
	a.LastIterations = 0
	if len(updates) == 0 {
		return nil, ErrEmptyInput
	}

	keys := updates[0].Keys()
	if len(updates) == 1 {
		return updates[0].Clone(), nil
	}

	if err := tensor.ValidateConsistent(updates, keys); err != nil {
		return nil, err
	}

	shapes := make([]tensor.Shape, len(keys))
	points := make([][]float32, len(updates))
	for i, u := range updates {
		flat, err := tensor.Flatten(u, keys)
		if err != nil {
			return nil, err
		}
		points[i] = flat
	}
	for i, k := range keys {
		t, _ := updates[0].Get(k)
		shapes[i] = t.Shape
	}

	median, iters := Weiszfeld(points, a.MaxIter, a.Eps)
	a.LastIterations = iters

	if !isFinite(median) {
		return nil, fmt.Errorf("aggregator: non-finite median produced after %d iterations", iters)
	}

	return tensor.Unflatten(median, keys, shapes)
}

// ComputeDistances returns the Euclidean distance of each update from
// median, in the same order as updates. On a single-update input the
// distance is zero since the median is the update itself.
func (a *Aggregator) ComputeDistances(updates []*tensor.NamedTensorMap, median *tensor.NamedTensorMap) ([]float32, error) {
	if len(updates) == 0 {
		return nil, ErrEmptyInput
	}

	keys := median.Keys()
	medianFlat, err := tensor.Flatten(median, keys)
	if err != nil {
		return nil, err
	}

	distances := make([]float32, len(updates))
	for i, u := range updates {
		flat, err := tensor.Flatten(u, keys)
		if err != nil {
			return nil, err
		}
		distances[i] = l2Distance(flat, medianFlat)
	}
	return distances, nil
}
