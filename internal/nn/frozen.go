package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Frozen wraps a layer whose weights must not change during training.
//
// Forward delegates to the wrapped layer. Backward still propagates input
// gradients (so layers before a frozen block keep training) but skips the
// wrapped layer's parameter gradients by reporting no parameters: with an
// empty Parameters() the optimizer never sees them and the wrapped weights
// stay at their loaded values.
//
// This is what lets a pretrained convolutional backbone be reused while only
// the freshly attached classification head learns.
type Frozen struct {
	inner Layer
}

// Freeze wraps a layer for feature-extraction use.
func Freeze(inner Layer) *Frozen {
	return &Frozen{inner: inner}
}

// Forward delegates to the wrapped layer.
func (f *Frozen) Forward(input *tensor.Tensor) *tensor.Tensor {
	return f.inner.Forward(input)
}

// Backward delegates to the wrapped layer for input-gradient propagation.
// Parameter gradients accumulated inside the wrapped layer are never applied
// because Parameters returns nil.
func (f *Frozen) Backward(grad *tensor.Tensor) *tensor.Tensor {
	return f.inner.Backward(grad)
}

// Parameters returns nil so the optimizer skips the wrapped weights.
func (f *Frozen) Parameters() []*Parameter {
	return nil
}

// Inner returns the wrapped layer, used when loading backbone weights.
func (f *Frozen) Inner() Layer {
	return f.inner
}

// SetTraining propagates the mode to the wrapped layer.
func (f *Frozen) SetTraining(training bool) {
	if tm, ok := f.inner.(TrainableMode); ok {
		tm.SetTraining(training)
	}
}
