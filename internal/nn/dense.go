package nn

import (
	"fmt"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Dense is a fully connected layer: y = x @ W + b.
//
// Input shape:  [batch, in_features]
// Weight shape: [in_features, out_features]
// Bias shape:   [out_features]
// Output shape: [batch, out_features]
//
// Weights are Glorot-initialized, biases start at zero.
type Dense struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter

	input *tensor.Tensor // cached for Backward
}

// NewDense creates a fully connected layer.
func NewDense(inFeatures, outFeatures int, rng *rand.Rand) *Dense {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("dense: invalid features in=%d out=%d", inFeatures, outFeatures))
	}
	weightShape := tensor.Shape{inFeatures, outFeatures}
	return &Dense{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", Glorot(inFeatures, outFeatures, weightShape, rng)),
		bias:        NewParameter("bias", tensor.Zeros(tensor.Shape{outFeatures})),
	}
}

// Forward computes x @ W + b.
func (d *Dense) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("dense: expected 2D input [batch, features], got %v", shape))
	}
	if shape[1] != d.inFeatures {
		panic(fmt.Sprintf("dense: input features %d != expected %d", shape[1], d.inFeatures))
	}
	d.input = input
	return input.MatMul(d.weight.Value()).AddRowBroadcast(d.bias.Value())
}

// Backward computes dW = xᵀ @ g, db = Σ_batch g and returns dx = g @ Wᵀ.
func (d *Dense) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.input == nil {
		panic("dense: Backward called before Forward")
	}
	d.weight.Grad().AddScaledInPlace(d.input.Transpose().MatMul(grad), 1)
	d.bias.Grad().AddScaledInPlace(grad.SumRows(), 1)
	return grad.MatMul(d.weight.Value().Transpose())
}

// Parameters returns the weight and bias parameters.
func (d *Dense) Parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}

// InFeatures returns the input width.
func (d *Dense) InFeatures() int { return d.inFeatures }

// OutFeatures returns the output width.
func (d *Dense) OutFeatures() int { return d.outFeatures }

// String describes the layer configuration.
func (d *Dense) String() string {
	return fmt.Sprintf("Dense(in=%d, out=%d)", d.inFeatures, d.outFeatures)
}
