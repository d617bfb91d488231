package optim

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param -= lr * grad
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + grad
//	param -= lr * velocity
type SGD struct {
	params     []*nn.Parameter
	lr         float32
	momentum   float32
	velocities []*tensor.Tensor // parallel to params, nil until first use
}

// SGDConfig holds SGD hyperparameters.
type SGDConfig struct {
	LR       float32 // learning rate (default 0.01)
	Momentum float32 // momentum factor in [0, 1) (default 0)
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make([]*tensor.Tensor, len(params)),
	}
}

// Step applies one SGD update to every parameter.
func (s *SGD) Step() {
	for i, p := range s.params {
		grad := p.Grad()
		if s.momentum == 0 {
			p.Value().AddScaledInPlace(grad, -s.lr)
			continue
		}

		v := s.velocities[i]
		if v == nil {
			v = tensor.Zeros(p.Value().Shape())
			s.velocities[i] = v
		}
		v.ScaleInPlace(s.momentum)
		v.AddScaledInPlace(grad, 1)
		p.Value().AddScaledInPlace(v, -s.lr)
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float32 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// StateDict exports velocity buffers keyed "velocity.{index}".
// Without momentum the state is empty.
func (s *SGD) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	if s.momentum == 0 {
		return state
	}
	for i, v := range s.velocities {
		if v == nil {
			continue
		}
		state[fmt.Sprintf("velocity.%d", i)] = v
	}
	return state
}

// LoadStateDict restores velocity buffers. Missing entries stay nil and are
// initialized lazily on the next Step.
func (s *SGD) LoadStateDict(state map[string]*tensor.Tensor) error {
	if s.momentum == 0 {
		return nil
	}
	for i, p := range s.params {
		v, ok := state[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			continue
		}
		if !v.Shape().Equal(p.Value().Shape()) {
			return fmt.Errorf("sgd: velocity %d shape mismatch: expected %v, got %v",
				i, p.Value().Shape(), v.Shape())
		}
		s.velocities[i] = v.Clone()
	}
	return nil
}
