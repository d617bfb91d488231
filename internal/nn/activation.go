package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
//
// The forward pass caches the activation mask so Backward can zero gradients
// flowing through negative inputs.
type ReLU struct {
	mask []bool
}

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward computes max(0, x).
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input.Clone()
	r.mask = make([]bool, out.Size())
	data := out.Data()
	for i, v := range data {
		if v > 0 {
			r.mask[i] = true
		} else {
			data[i] = 0
		}
	}
	return out
}

// Backward passes gradients only where the input was positive.
func (r *ReLU) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if r.mask == nil {
		panic("relu: Backward called before Forward")
	}
	out := grad.Clone()
	data := out.Data()
	for i := range data {
		if !r.mask[i] {
			data[i] = 0
		}
	}
	return out
}

// Parameters returns an empty slice; ReLU is parameter-free.
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// String describes the layer.
func (r *ReLU) String() string { return "ReLU()" }
