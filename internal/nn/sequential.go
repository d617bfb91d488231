package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sequential chains layers so each output feeds the next input.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewConv2D(1, 32, 3, 1, 1, rng),
//	    nn.NewReLU(),
//	    nn.NewMaxPool2D(2, 2),
//	    nn.NewFlatten(),
//	    nn.NewDense(14*14*32, 10, rng),
//	)
//
// Backward walks the layers in reverse. StateDict keys are
// "layers.{index}.{parameter}", e.g. "layers.0.weight".
type Sequential struct {
	layers []Layer
}

// NewSequential creates a sequential container from the given layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

// Forward runs the input through every layer in order.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input
	for _, l := range s.layers {
		out = l.Forward(out)
	}
	return out
}

// Backward propagates the gradient through every layer in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) *tensor.Tensor {
	out := grad
	for i := len(s.layers) - 1; i >= 0; i-- {
		out = s.layers[i].Backward(out)
	}
	return out
}

// Parameters returns the parameters of all layers in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range s.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// SetTraining propagates the training mode to mode-aware layers.
func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.layers {
		if tm, ok := l.(TrainableMode); ok {
			tm.SetTraining(training)
		}
	}
}

// Layers returns the contained layers in order.
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// ZeroGrad clears all parameter gradients.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Parameters() {
		p.ZeroGrad()
	}
}

// StateDict returns a name -> tensor map of all parameters.
//
// The returned tensors are the live parameter values, not copies.
func (s *Sequential) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for i, l := range s.layers {
		for _, p := range l.Parameters() {
			state[fmt.Sprintf("layers.%d.%s", i, p.Name())] = p.Value()
		}
	}
	return state
}

// LoadStateDict copies values from state into matching parameters.
//
// Every parameter of the model must be present in state with an identical
// shape; extra entries in state are ignored so a backbone checkpoint can be
// loaded into a prefix of a larger model via name remapping.
func (s *Sequential) LoadStateDict(state map[string]*tensor.Tensor) error {
	for i, l := range s.layers {
		for _, p := range l.Parameters() {
			key := fmt.Sprintf("layers.%d.%s", i, p.Name())
			src, ok := state[key]
			if !ok {
				return fmt.Errorf("state dict missing %q", key)
			}
			if !src.Shape().Equal(p.Value().Shape()) {
				return fmt.Errorf("state dict %q shape mismatch: expected %v, got %v",
					key, p.Value().Shape(), src.Shape())
			}
			p.Value().CopyFrom(src)
		}
	}
	return nil
}

// NumParameters counts all trainable scalars, useful for model summaries.
func (s *Sequential) NumParameters() int {
	total := 0
	for _, p := range s.Parameters() {
		total += p.Value().Size()
	}
	return total
}
