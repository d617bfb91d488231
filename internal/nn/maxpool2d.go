package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer over NHWC tensors.
//
// Input shape:  [batch, height, width, channels]
// Output shape: [batch, out_h, out_w, channels]
//
// Where:
//
//	out_h = (height - kernelSize) / stride + 1
//	out_w = (width - kernelSize) / stride + 1
//
// The layer has no trainable parameters. The forward pass records the flat
// input index of each window maximum so the backward pass can route gradients
// only to winning positions.
type MaxPool2D struct {
	kernelSize int
	stride     int

	argmax     []int // flat input index per output element
	inputShape tensor.Shape
}

// NewMaxPool2D creates a max pooling layer with a square window.
// The common configuration NewMaxPool2D(2, 2) halves the spatial dimensions.
func NewMaxPool2D(kernelSize, stride int) *MaxPool2D {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	return &MaxPool2D{kernelSize: kernelSize, stride: stride}
}

// Forward performs max pooling over each channel independently.
func (m *MaxPool2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,H,W,C], got %v", shape))
	}
	n, h, w, c := shape[0], shape[1], shape[2], shape[3]
	outH := (h-m.kernelSize)/m.stride + 1
	outW := (w-m.kernelSize)/m.stride + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("maxpool2d: non-positive output %dx%d for input %dx%d", outH, outW, h, w))
	}

	m.inputShape = shape.Clone()
	out := tensor.New(tensor.Shape{n, outH, outW, c})
	m.argmax = make([]int, out.Size())

	in := input.Data()
	dst := out.Data()

	for img := 0; img < n; img++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				for ch := 0; ch < c; ch++ {
					bestIdx := -1
					var best float32
					for kh := 0; kh < m.kernelSize; kh++ {
						ih := oh*m.stride + kh
						for kw := 0; kw < m.kernelSize; kw++ {
							iw := ow*m.stride + kw
							idx := ((img*h+ih)*w+iw)*c + ch
							if bestIdx < 0 || in[idx] > best {
								best = in[idx]
								bestIdx = idx
							}
						}
					}
					outIdx := ((img*outH+oh)*outW+ow)*c + ch
					dst[outIdx] = best
					m.argmax[outIdx] = bestIdx
				}
			}
		}
	}
	return out
}

// Backward routes each output gradient to the input position that won the max.
func (m *MaxPool2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if m.argmax == nil {
		panic("maxpool2d: Backward called before Forward")
	}
	if grad.Size() != len(m.argmax) {
		panic(fmt.Sprintf("maxpool2d: gradient size %d != output size %d", grad.Size(), len(m.argmax)))
	}
	dInput := tensor.Zeros(m.inputShape)
	dst := dInput.Data()
	for outIdx, inIdx := range m.argmax {
		dst[inIdx] += grad.Data()[outIdx]
	}
	return dInput
}

// Parameters returns an empty slice; max pooling is parameter-free.
func (m *MaxPool2D) Parameters() []*Parameter {
	return nil
}

// String describes the layer configuration.
func (m *MaxPool2D) String() string {
	return fmt.Sprintf("MaxPool2D(kernel=%d, stride=%d)", m.kernelSize, m.stride)
}
