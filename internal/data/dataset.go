// Package data implements the extract-transform-load input pipeline feeding
// kiln estimators.
//
// A Dataset is an indexable source of fixed-size image samples. The Pipeline
// turns a Dataset into a stream of training batches with the usual stages:
// shuffle, repeat, parallel map, batch, prefetch. Two sources are provided:
// an IDX-format built-in dataset (with a synthetic fallback) and an on-disk
// ImageFolder of category-named subdirectories of JPEG/PNG files.
//
// All pixel values leaving this package are normalized to [0, 1] and labels
// are one-hot encoded into the batch tensor.
package data

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Sample is one image with its class label. Pixels are flattened NHWC
// (height*width*channels) values in [0, 1].
type Sample struct {
	Pixels []float32
	Label  int
}

// Dataset is an indexable source of samples with a fixed image geometry.
type Dataset interface {
	// Len returns the number of samples.
	Len() int

	// Sample returns the i-th sample. Implementations may decode lazily.
	Sample(i int) (Sample, error)

	// Bounds returns the image geometry (height, width, channels).
	Bounds() (h, w, c int)

	// NumClasses returns the number of distinct labels.
	NumClasses() int
}

// Batch is a collated group of samples ready for a model.
type Batch struct {
	Images   *tensor.Tensor // [N, H, W, C], values in [0, 1]
	Labels   *tensor.Tensor // [N, classes], one-hot rows
	LabelIDs []int          // raw class indices, parallel to rows
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	if b.Images == nil {
		return 0
	}
	return b.Images.Shape()[0]
}

// OneHot encodes labels into a [len(labels), classes] tensor where each row
// has exactly one 1. Panics on out-of-range labels; sources validate labels
// at load time.
func OneHot(labels []int, classes int) *tensor.Tensor {
	out := tensor.Zeros(tensor.Shape{len(labels), classes})
	for i, l := range labels {
		if l < 0 || l >= classes {
			panic(fmt.Sprintf("data: label %d outside [0, %d)", l, classes))
		}
		out.Data()[i*classes+l] = 1
	}
	return out
}

// Collate assembles samples into a Batch for a dataset with the given
// geometry and class count.
func Collate(samples []Sample, h, w, c, classes int) (Batch, error) {
	n := len(samples)
	if n == 0 {
		return Batch{}, fmt.Errorf("data: cannot collate an empty batch")
	}
	pixelLen := h * w * c
	images := tensor.New(tensor.Shape{n, h, w, c})
	labels := make([]int, n)
	for i, s := range samples {
		if len(s.Pixels) != pixelLen {
			return Batch{}, fmt.Errorf("data: sample %d has %d pixels, expected %d",
				i, len(s.Pixels), pixelLen)
		}
		copy(images.Data()[i*pixelLen:(i+1)*pixelLen], s.Pixels)
		labels[i] = s.Label
	}
	return Batch{
		Images:   images,
		Labels:   OneHot(labels, classes),
		LabelIDs: labels,
	}, nil
}
