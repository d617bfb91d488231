package nn

import (
	"fmt"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Dropout randomly zeroes activations during training with probability p,
// scaling survivors by 1/(1-p) (inverted dropout) so evaluation needs no
// rescaling. In evaluation mode the layer is the identity.
type Dropout struct {
	p        float32
	rng      *rand.Rand
	training bool

	mask []float32
}

// NewDropout creates a dropout layer with drop probability p in [0, 1).
// The layer starts in training mode.
func NewDropout(p float32, rng *rand.Rand) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout: probability %f outside [0, 1)", p))
	}
	return &Dropout{p: p, rng: rng, training: true}
}

// SetTraining toggles between training (drop) and evaluation (identity) mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Forward applies the dropout mask in training mode.
func (d *Dropout) Forward(input *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		d.mask = nil
		return input
	}
	out := input.Clone()
	d.mask = make([]float32, out.Size())
	keep := 1 / (1 - d.p)
	data := out.Data()
	for i := range data {
		if d.rng.Float32() < d.p {
			data[i] = 0
		} else {
			d.mask[i] = keep
			data[i] *= keep
		}
	}
	return out
}

// Backward applies the same mask to the gradient.
func (d *Dropout) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.mask == nil {
		return grad
	}
	out := grad.Clone()
	data := out.Data()
	for i := range data {
		data[i] *= d.mask[i]
	}
	return out
}

// Parameters returns an empty slice; Dropout is parameter-free.
func (d *Dropout) Parameters() []*Parameter {
	return nil
}

// String describes the layer.
func (d *Dropout) String() string { return fmt.Sprintf("Dropout(p=%.2f)", d.p) }
