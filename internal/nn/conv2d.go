package nn

import (
	"fmt"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2D is a 2D convolutional layer over NHWC tensors.
//
// Input shape:  [batch, height, width, in_channels]
// Weight shape: [kernel_h, kernel_w, in_channels, out_channels]
// Bias shape:   [out_channels]
// Output shape: [batch, out_h, out_w, out_channels]
//
// Where:
//
//	out_h = (height + 2*padding - kernel_h) / stride + 1
//	out_w = (width + 2*padding - kernel_w) / stride + 1
//
// The forward pass uses im2col: input patches are unrolled into a
// [batch*out_h*out_w, kernel_h*kernel_w*in_channels] matrix, so convolution
// becomes a single matrix multiplication against the flattened kernel. The
// backward pass reuses the cached column matrix for the weight gradient and
// scatters the input gradient back through col2im.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter // [K, K, C_in, C_out]
	bias   *Parameter // [C_out]

	// Forward-pass cache consumed by Backward.
	cols       *tensor.Tensor // [N*out_h*out_w, K*K*C_in]
	inputShape tensor.Shape
}

// NewConv2D creates a Conv2D layer with Glorot-initialized weights and zero
// biases. Kernel is square; stride and padding apply to both spatial dims.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	weightShape := tensor.Shape{kernelSize, kernelSize, inChannels, outChannels}

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", Glorot(fanIn, fanOut, weightShape, rng)),
		bias:        NewParameter("bias", tensor.Zeros(tensor.Shape{outChannels})),
	}
}

// Forward performs the convolution.
//
// Input: [N, H, W, C_in]. Output: [N, out_h, out_w, C_out].
func (c *Conv2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,H,W,C], got %v", shape))
	}
	if shape[3] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", shape[3], c.inChannels))
	}

	n, h, w := shape[0], shape[1], shape[2]
	outH, outW := c.outputSize(h, w)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("conv2d: non-positive output %dx%d for input %dx%d", outH, outW, h, w))
	}

	c.inputShape = shape.Clone()
	c.cols = c.im2col(input, n, h, w, outH, outW)

	// [N*out_h*out_w, K*K*C_in] @ [K*K*C_in, C_out] -> [N*out_h*out_w, C_out]
	kernel := c.weight.Value().Reshape(c.kernelSize*c.kernelSize*c.inChannels, c.outChannels)
	out := c.cols.MatMul(kernel).AddRowBroadcast(c.bias.Value())

	return out.Reshape(n, outH, outW, c.outChannels)
}

// Backward computes input, weight and bias gradients.
//
// grad: [N, out_h, out_w, C_out]. Returns [N, H, W, C_in].
func (c *Conv2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if c.cols == nil {
		panic("conv2d: Backward called before Forward")
	}
	gs := grad.Shape()
	rows := gs[0] * gs[1] * gs[2]
	g := grad.Reshape(rows, c.outChannels)

	// dW = colsᵀ @ g, accumulated into the flattened weight gradient.
	dW := c.cols.Transpose().MatMul(g)
	c.weight.Grad().AddScaledInPlace(
		dW.Reshape(c.kernelSize, c.kernelSize, c.inChannels, c.outChannels), 1)

	// db = column sums of g.
	c.bias.Grad().AddScaledInPlace(g.SumRows(), 1)

	// dInput = col2im(g @ Wᵀ).
	kernel := c.weight.Value().Reshape(c.kernelSize*c.kernelSize*c.inChannels, c.outChannels)
	dCols := g.MatMul(kernel.Transpose())
	return c.col2im(dCols, gs[1], gs[2])
}

// Parameters returns the weight and bias parameters.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// OutputSize reports the spatial output dimensions for an input of h×w.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return c.outputSize(h, w)
}

func (c *Conv2D) outputSize(h, w int) (int, int) {
	outH := (h+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (w+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

// im2col unrolls input patches into rows.
//
// Row (n*outH+oh)*outW+ow holds the receptive field at (oh, ow) of image n,
// laid out as [kh][kw][ci]. Out-of-bounds (padding) positions stay zero.
func (c *Conv2D) im2col(input *tensor.Tensor, n, h, w, outH, outW int) *tensor.Tensor {
	k := c.kernelSize
	colWidth := k * k * c.inChannels
	cols := tensor.Zeros(tensor.Shape{n * outH * outW, colWidth})

	in := input.Data()
	out := cols.Data()

	for img := 0; img < n; img++ {
		imgBase := img * h * w * c.inChannels
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				rowBase := ((img*outH+oh)*outW + ow) * colWidth
				for kh := 0; kh < k; kh++ {
					ih := oh*c.stride - c.padding + kh
					if ih < 0 || ih >= h {
						continue
					}
					for kw := 0; kw < k; kw++ {
						iw := ow*c.stride - c.padding + kw
						if iw < 0 || iw >= w {
							continue
						}
						src := imgBase + (ih*w+iw)*c.inChannels
						dst := rowBase + (kh*k+kw)*c.inChannels
						copy(out[dst:dst+c.inChannels], in[src:src+c.inChannels])
					}
				}
			}
		}
	}
	return cols
}

// col2im scatters column-space gradients back onto the input, summing where
// receptive fields overlap.
func (c *Conv2D) col2im(dCols *tensor.Tensor, outH, outW int) *tensor.Tensor {
	n, h, w := c.inputShape[0], c.inputShape[1], c.inputShape[2]
	k := c.kernelSize
	colWidth := k * k * c.inChannels

	dInput := tensor.Zeros(c.inputShape)
	dst := dInput.Data()
	src := dCols.Data()

	for img := 0; img < n; img++ {
		imgBase := img * h * w * c.inChannels
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				rowBase := ((img*outH+oh)*outW + ow) * colWidth
				for kh := 0; kh < k; kh++ {
					ih := oh*c.stride - c.padding + kh
					if ih < 0 || ih >= h {
						continue
					}
					for kw := 0; kw < k; kw++ {
						iw := ow*c.stride - c.padding + kw
						if iw < 0 || iw >= w {
							continue
						}
						d := imgBase + (ih*w+iw)*c.inChannels
						s := rowBase + (kh*k+kw)*c.inChannels
						for ci := 0; ci < c.inChannels; ci++ {
							dst[d+ci] += src[s+ci]
						}
					}
				}
			}
		}
	}
	return dInput
}

// String describes the layer configuration.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(in=%d, out=%d, kernel=%d, stride=%d, padding=%d)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding)
}
