package aggregator

import (
	"errors"
	"testing"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

func singleTensorMap(key string, values []float32) *tensor.NamedTensorMap {
	m := tensor.NewNamedTensorMap()
	m.Set(key, tensor.Tensor{Shape: tensor.Shape{len(values)}, Data: values})
	return m
}

func TestAggregator_EmptyInput(t *testing.T) {
	a := New()
	_, err := a.Aggregate(nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestAggregator_SingleInputIsClone(t *testing.T) {
	a := New()
	update := singleTensorMap("p", []float32{1, 2})

	median, err := a.Aggregate([]*tensor.NamedTensorMap{update})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.LastIterations != 0 {
		t.Errorf("expected 0 iterations for single input, got %d", a.LastIterations)
	}

	got, _ := median.Get("p")
	if got.Data[0] != 1 || got.Data[1] != 2 {
		t.Errorf("expected clone of input, got %v", got.Data)
	}

	distances, err := a.ComputeDistances([]*tensor.NamedTensorMap{update}, median)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if distances[0] != 0 {
		t.Errorf("expected distance 0 for single input, got %v", distances[0])
	}
}

func TestAggregator_KnownGeometricMedian(t *testing.T) {
	a := New()
	updates := []*tensor.NamedTensorMap{
		singleTensorMap("p", []float32{0, 0}),
		singleTensorMap("p", []float32{1, 0}),
		singleTensorMap("p", []float32{0, 1}),
	}

	median, err := a.Aggregate(updates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := median.Get("p")
	for _, v := range got.Data {
		if v < 0.20 || v > 0.23 {
			t.Errorf("expected component ≈0.2113, got %v", v)
		}
	}

	distances, err := a.ComputeDistances(updates, median)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(distances) != 3 {
		t.Fatalf("expected 3 distances, got %d", len(distances))
	}
	for _, d := range distances {
		if d < 0 {
			t.Errorf("expected non-negative distance, got %v", d)
		}
	}
}

func TestAggregator_ShapeMismatch(t *testing.T) {
	a := New()
	updates := []*tensor.NamedTensorMap{
		singleTensorMap("p", []float32{0, 0}),
		singleTensorMap("p", []float32{1, 0, 2}),
	}

	_, err := a.Aggregate(updates)
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
