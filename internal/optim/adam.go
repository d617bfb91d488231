package optim

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2014).
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * grad
//	v_t = beta2 * v_{t-1} + (1-beta2) * grad²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param -= lr * m_hat / (sqrt(v_hat) + eps)
type Adam struct {
	params []*nn.Parameter
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int

	m []*tensor.Tensor // first moments, parallel to params
	v []*tensor.Tensor // second moments, parallel to params
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LR    float32    // learning rate (default 0.001)
	Betas [2]float32 // moment decay rates (default 0.9, 0.999)
	Eps   float32    // denominator guard (default 1e-8)
}

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas == [2]float32{} {
		config.Betas = [2]float32{0.9, 0.999}
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make([]*tensor.Tensor, len(params)),
		v:      make([]*tensor.Tensor, len(params)),
	}
}

// Step applies one Adam update with bias correction to every parameter.
func (a *Adam) Step() {
	a.t++
	correction1 := 1 - float32(math.Pow(float64(a.beta1), float64(a.t)))
	correction2 := 1 - float32(math.Pow(float64(a.beta2), float64(a.t)))

	for i, p := range a.params {
		grad := p.Grad().Data()

		if a.m[i] == nil {
			a.m[i] = tensor.Zeros(p.Value().Shape())
			a.v[i] = tensor.Zeros(p.Value().Shape())
		}
		m := a.m[i].Data()
		v := a.v[i].Data()
		value := p.Value().Data()

		for j, g := range grad {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / correction1
			vHat := v[j] / correction2
			value[j] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float32 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float32) { a.lr = lr }

// StateDict exports moment buffers keyed "m.{index}" / "v.{index}" plus the
// step counter as a 1-element tensor under "t".
func (a *Adam) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for i := range a.params {
		if a.m[i] == nil {
			continue
		}
		state[fmt.Sprintf("m.%d", i)] = a.m[i]
		state[fmt.Sprintf("v.%d", i)] = a.v[i]
	}
	state["t"] = tensor.Full(tensor.Shape{1}, float32(a.t))
	return state
}

// LoadStateDict restores moment buffers and the step counter.
func (a *Adam) LoadStateDict(state map[string]*tensor.Tensor) error {
	for i, p := range a.params {
		m, okM := state[fmt.Sprintf("m.%d", i)]
		v, okV := state[fmt.Sprintf("v.%d", i)]
		if !okM || !okV {
			continue
		}
		if !m.Shape().Equal(p.Value().Shape()) || !v.Shape().Equal(p.Value().Shape()) {
			return fmt.Errorf("adam: moment %d shape mismatch for parameter shape %v",
				i, p.Value().Shape())
		}
		a.m[i] = m.Clone()
		a.v[i] = v.Clone()
	}
	if t, ok := state["t"]; ok && t.Size() == 1 {
		a.t = int(t.Data()[0])
	}
	return nil
}
