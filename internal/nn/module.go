// Package nn implements neural network layers for the kiln training runtime.
//
// The package provides the building blocks the model zoo stacks into
// classifiers:
//   - Layer interface: forward pass, explicit backward pass, parameter access
//   - Parameter: trainable tensor with an accumulated gradient
//   - Conv2D, MaxPool2D, Dense, ReLU, Flatten, Dropout
//   - Sequential: ordered container with state-dict save/load
//   - SoftmaxCrossEntropy: numerically stable classification loss
//
// All image layers use the NHWC layout [batch, height, width, channels].
// Backward passes are written out explicitly per layer; each call accumulates
// into Parameter gradients, so callers zero gradients between steps.
package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Layer is the base interface for all network components.
//
// Forward computes the layer output and caches whatever the backward pass
// needs. Backward takes the gradient of the loss with respect to the layer
// output and returns the gradient with respect to the layer input, adding
// parameter gradients into Parameters() as a side effect.
//
// A Layer is not safe for concurrent use; the mirrored strategy gives every
// replica its own clone.
type Layer interface {
	Forward(input *tensor.Tensor) *tensor.Tensor
	Backward(grad *tensor.Tensor) *tensor.Tensor
	Parameters() []*Parameter
}

// TrainableMode is implemented by layers whose forward pass differs between
// training and evaluation (Dropout). Sequential propagates the mode.
type TrainableMode interface {
	SetTraining(training bool)
}
