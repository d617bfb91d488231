package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Flatten collapses every dimension after the batch dimension, turning
// [N, H, W, C] feature maps into [N, H*W*C] rows for Dense layers.
type Flatten struct {
	inputShape tensor.Shape
}

// NewFlatten creates a Flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Forward reshapes [N, d1, d2, ...] to [N, d1*d2*...].
func (f *Flatten) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got %v", shape))
	}
	f.inputShape = shape.Clone()
	rest := 1
	for _, d := range shape[1:] {
		rest *= d
	}
	return input.Reshape(shape[0], rest)
}

// Backward restores the original input shape.
func (f *Flatten) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if f.inputShape == nil {
		panic("flatten: Backward called before Forward")
	}
	return grad.Reshape(f.inputShape...)
}

// Parameters returns an empty slice; Flatten is parameter-free.
func (f *Flatten) Parameters() []*Parameter {
	return nil
}

// String describes the layer.
func (f *Flatten) String() string { return "Flatten()" }
