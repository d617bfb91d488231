// Package tensor implements dense float32 tensors for the kiln training runtime.
//
// Tensors are row-major and always own their backing slice. The package keeps
// the surface small: creation helpers, element-wise arithmetic, matrix
// multiplication and the handful of shape manipulations the nn layers need.
// Images follow the NHWC layout [batch, height, width, channels].
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{32, 28, 28, 1} is a batch of 32 single-channel 28×28 images.
type Shape []int

// Size returns the total number of elements.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes have identical dimensions.
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

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// String renders the shape as [d0, d1, ...].
func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	shape Shape
	data  []float32
}

// New creates a zero-filled tensor with the given shape.
func New(shape Shape) *Tensor {
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("tensor: invalid dimension %d in shape %v", d, shape))
		}
	}
	return &Tensor{shape: shape.Clone(), data: make([]float32, shape.Size())}
}

// Zeros creates a zero-filled tensor. Alias of New, kept for readability at
// call sites that also use Full and Randn.
func Zeros(shape Shape) *Tensor {
	return New(shape)
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float32) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// FromSlice creates a tensor that copies data. The length of data must match
// the shape size.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (size %d)",
			len(data), shape, shape.Size())
	}
	t := New(shape)
	copy(t.data, data)
	return t, nil
}

// Randn creates a tensor with values drawn from N(0, 1) using rng.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64())
	}
	return t
}

// Uniform creates a tensor with values drawn from U(lo, hi) using rng.
func Uniform(shape Shape, lo, hi float32, rng *rand.Rand) *Tensor {
	t := New(shape)
	for i := range t.data {
		t.data[i] = lo + (hi-lo)*rng.Float32()
	}
	return t
}

// Shape returns the tensor shape. Callers must not mutate it.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the backing slice. Mutations are visible to the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.shape)
	copy(out.data, t.data)
	return out
}

// CopyFrom copies src's data into t. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) {
	if !t.shape.Equal(src.shape) {
		panic(fmt.Sprintf("tensor: CopyFrom shape mismatch %v vs %v", t.shape, src.shape))
	}
	copy(t.data, src.data)
}

// Zero resets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Reshape returns a tensor sharing no data with t but holding the same values
// under a new shape. The new shape must have the same size.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := Shape(dims)
	if shape.Size() != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v (size %d) to %v (size %d)",
			t.shape, len(t.data), shape, shape.Size()))
	}
	out := New(shape)
	copy(out.data, t.data)
	return out
}

// At returns the element at flat index i.
func (t *Tensor) At(i int) float32 {
	return t.data[i]
}

// MaxAbs returns the largest absolute element value, 0 for empty tensors.
func (t *Tensor) MaxAbs() float32 {
	var m float32
	for _, v := range t.data {
		if a := float32(math.Abs(float64(v))); a > m {
			m = a
		}
	}
	return m
}
