// Package tensor implements the canonical named-tensor serialisation used
// throughout the federated learning pipeline: a fixed-order mapping from
// string keys to dense float32 tensors, and the flatten/unflatten pair that
// turns such a mapping into a single dense vector for numeric processing.
package tensor

import (
	"errors"
	"fmt"
)

// Shape is a tensor's dimensions, e.g. (14, 1024) for a linear layer's
// weight matrix. Order matters; two shapes are equal only if every
// dimension matches positionally.
type Shape []int

// NumElements returns the element count implied by the shape (the product
// of its dimensions). An empty shape is treated as a scalar (1 element).
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes have identical dimensions in the same
// order.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int(s))
}

// Tensor is a single dense, row-major (C-order) float32 tensor.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := make(Shape, len(t.Shape))
	copy(shape, t.Shape)
	return Tensor{Shape: shape, Data: data}
}

// NamedTensorMap is an ordered mapping from parameter name to tensor. Order
// is significant: it is fixed once by Keys and must be identical across all
// clients participating in a round.
type NamedTensorMap struct {
	keys    []string
	tensors map[string]Tensor
}

// NewNamedTensorMap builds a NamedTensorMap, preserving the order in which
// keys are inserted via Set.
func NewNamedTensorMap() *NamedTensorMap {
	return &NamedTensorMap{tensors: make(map[string]Tensor)}
}

// Set inserts or replaces the tensor at key, appending key to the key order
// the first time it is seen.
func (m *NamedTensorMap) Set(key string, t Tensor) {
	if _, exists := m.tensors[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.tensors[key] = t
}

// Get returns the tensor stored at key and whether it was present.
func (m *NamedTensorMap) Get(key string) (Tensor, bool) {
	t, ok := m.tensors[key]
	return t, ok
}

// Keys returns the key order as currently recorded. The returned slice must
// not be mutated by the caller.
func (m *NamedTensorMap) Keys() []string {
	return m.keys
}

// Len returns the number of entries.
func (m *NamedTensorMap) Len() int {
	return len(m.keys)
}

// Clone returns a deep copy, preserving key order.
func (m *NamedTensorMap) Clone() *NamedTensorMap {
	out := NewNamedTensorMap()
	for _, k := range m.keys {
		out.Set(k, m.tensors[k].Clone())
	}
	return out
}

// ErrShapeMismatch is the sentinel wrapped by ShapeMismatch errors raised
// when client tensor maps diverge in keys, shapes, or element counts.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// ShapeMismatchError carries the offending key and the two conflicting
// shapes for diagnostics, while still satisfying errors.Is(err,
// ErrShapeMismatch).
type ShapeMismatchError struct {
	Key      string
	Expected Shape
	Actual   Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("tensor: shape mismatch at key %q: expected %s, got %s", e.Key, e.Expected, e.Actual)
}

func (e *ShapeMismatchError) Unwrap() error {
	return ErrShapeMismatch
}

// Flatten concatenates the tensors named by keys, in that order, into a
// single dense float32 vector using each tensor's row-major element order.
// All named tensors must be present in m; a missing key is a shape
// mismatch since the caller-supplied key list is the contract for every
// client in the round.
func Flatten(m *NamedTensorMap, keys []string) ([]float32, error) {
	total := 0
	for _, k := range keys {
		t, ok := m.Get(k)
		if !ok {
			return nil, fmt.Errorf("tensor: flatten: %w: missing key %q", ErrShapeMismatch, k)
		}
		total += len(t.Data)
	}

	out := make([]float32, 0, total)
	for _, k := range keys {
		t, _ := m.Get(k)
		out = append(out, t.Data...)
	}
	return out, nil
}

// Unflatten is the inverse of Flatten: given a flat vector and the same
// key list plus matching shapes (same order, same length), it slices and
// reshapes the vector back into a NamedTensorMap.
func Unflatten(flat []float32, keys []string, shapes []Shape) (*NamedTensorMap, error) {
	if len(keys) != len(shapes) {
		return nil, fmt.Errorf("tensor: unflatten: %w: %d keys but %d shapes", ErrShapeMismatch, len(keys), len(shapes))
	}

	out := NewNamedTensorMap()
	offset := 0
	for i, k := range keys {
		n := shapes[i].NumElements()
		if offset+n > len(flat) {
			return nil, fmt.Errorf("tensor: unflatten: %w: key %q needs %d elements, only %d remain", ErrShapeMismatch, k, n, len(flat)-offset)
		}
		data := make([]float32, n)
		copy(data, flat[offset:offset+n])
		out.Set(k, Tensor{Shape: shapes[i], Data: data})
		offset += n
	}
	return out, nil
}

// ValidateConsistent checks that every map in maps shares identical keys
// (in the key-list order) and shapes, returning a ShapeMismatchError
// wrapping ErrShapeMismatch on the first divergence found. Used by the
// aggregator before flattening a batch of client updates.
func ValidateConsistent(maps []*NamedTensorMap, keys []string) error {
	if len(maps) == 0 {
		return nil
	}
	reference := maps[0]
	refShapes := make(map[string]Shape, len(keys))
	for _, k := range keys {
		t, ok := reference.Get(k)
		if !ok {
			return fmt.Errorf("tensor: validate: %w: reference missing key %q", ErrShapeMismatch, k)
		}
		refShapes[k] = t.Shape
	}

	for _, m := range maps[1:] {
		for _, k := range keys {
			t, ok := m.Get(k)
			if !ok {
				return &ShapeMismatchError{Key: k, Expected: refShapes[k], Actual: nil}
			}
			if !t.Shape.Equal(refShapes[k]) {
				return &ShapeMismatchError{Key: k, Expected: refShapes[k], Actual: t.Shape}
			}
		}
	}
	return nil
}
