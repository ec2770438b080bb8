// Package simtrainer provides a synthetic LocalTrainer used to exercise
// the round pipeline end to end without a real image-classification model
// or dataset loader — both out of scope. It is not gated by any
// environment variable; cmd/orchestrator and cmd/client construct it
// directly. Every random draw uses crypto/rand rather than math/rand so
// synthetic runs are not predictable.
package simtrainer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// cryptoRandFloat64 returns a cryptographically random float64 in [0, 1),
// built from the top 53 bits of a crypto/rand uint64 (0.5 if the read fails).
func cryptoRandFloat64() float64 {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return 0.5
	}
	n := binary.BigEndian.Uint64(b) >> 11
	return float64(n) / float64(1<<53)
}

// Trainer is a synthetic LocalTrainer (internal/executor.LocalTrainer):
// it holds body/head weight maps in memory and "trains" by nudging every
// weight toward zero with a shrinking synthetic loss, enough signal to
// drive the aggregator, DP clipping, and HE round-trip without a real
// model behind it.
type Trainer struct {
	bodyShapes map[string]tensor.Shape
	headShapes map[string]tensor.Shape

	body *tensor.NamedTensorMap
	head *tensor.NamedTensorMap

	epoch int
}

// New constructs a Trainer whose body/head tensors start at the given
// shapes, initialised with small random weights.
func New(bodyShapes, headShapes map[string]tensor.Shape) *Trainer {
	t := &Trainer{bodyShapes: bodyShapes, headShapes: headShapes}
	t.body = randomTensorMap(bodyShapes)
	t.head = randomTensorMap(headShapes)
	return t
}

func randomTensorMap(shapes map[string]tensor.Shape) *tensor.NamedTensorMap {
	m := tensor.NewNamedTensorMap()
	for key, shape := range shapes {
		n := shape.NumElements()
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(cryptoRandFloat64()*0.2 - 0.1)
		}
		m.Set(key, tensor.Tensor{Shape: shape, Data: data})
	}
	return m
}

func (t *Trainer) LoadBodyState(body *tensor.NamedTensorMap) {
	if body != nil && body.Len() > 0 {
		t.body = body.Clone()
	}
}

func (t *Trainer) LoadHeadState(head *tensor.NamedTensorMap) {
	if head != nil && head.Len() > 0 {
		t.head = head.Clone()
	}
}

func (t *Trainer) BodyState() *tensor.NamedTensorMap { return t.body }
func (t *Trainer) HeadState() *tensor.NamedTensorMap { return t.head }

// TrainEpoch nudges every weight toward zero by a small, decaying step and
// reports a synthetic loss that decreases with successive epochs —
// standing in for a real SGD epoch over an image batch.
func (t *Trainer) TrainEpoch(ctx context.Context) (loss float32, samples uint32, err error) {
	t.epoch++
	const step = 0.01
	shrink(t.body, step)
	shrink(t.head, step)

	loss = float32(1.0 / math.Sqrt(float64(t.epoch)))
	samples = 256
	return loss, samples, nil
}

func shrink(m *tensor.NamedTensorMap, step float32) {
	if m == nil {
		return
	}
	for _, key := range m.Keys() {
		tns, _ := m.Get(key)
		for i, v := range tns.Data {
			tns.Data[i] = v - step*v
		}
	}
}

// Validate reports a synthetic validation loss/AUC, both derived from the
// current epoch so dashboards show the expected converging trend.
func (t *Trainer) Validate(ctx context.Context) (loss, auc float32, err error) {
	loss = float32(1.0 / math.Sqrt(float64(t.epoch+1)))
	auc = float32(0.5 + 0.4*(1-1.0/math.Sqrt(float64(t.epoch+1))))
	return loss, auc, nil
}
