// Package model assembles the networks used by the kiln commands: a small
// convolutional classifier trained from scratch, and a fine-tuning variant
// that reuses the classifier's convolutional trunk as a frozen pretrained
// backbone under a fresh head.
package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/serialization"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// trunkLayers is the number of layers forming the convolutional trunk,
// Conv through Flatten. Everything after is the classification head.
const trunkLayers = 7

// ConvNet builds the reference classifier for images of the given geometry:
//
//	Conv(3x3, 32) -> ReLU -> MaxPool(2) ->
//	Conv(3x3, 64) -> ReLU -> MaxPool(2) ->
//	Flatten -> Dense(128) -> ReLU -> Dropout(0.5) -> Dense(classes)
//
// Convolutions use stride 1 and padding 1, so each pooling stage exactly
// halves the spatial dimensions.
func ConvNet(h, w, c, classes int, seed int64) *nn.Sequential {
	rng := rand.New(rand.NewSource(seed))
	trunk := trunkStack(c, rng)
	head := headStack(flatFeatures(h, w), classes, rng)
	return nn.NewSequential(append(trunk, head...)...)
}

// WithBackbone builds a classifier whose trunk weights come from a
// checkpoint written while training a ConvNet of the same input geometry.
// The trunk is frozen; only the fresh head receives gradients, so training
// updates and checkpoints cover the head alone.
func WithBackbone(checkpointPath string, h, w, c, classes int, seed int64) (*nn.Sequential, error) {
	state, _, err := serialization.Read(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("model: read backbone %s: %w", checkpointPath, err)
	}
	return buildWithTrunk(trunkState(state), h, w, c, classes, seed)
}

// BackboneBuilder returns a replica factory over one in-memory copy of the
// pretrained trunk weights. The factory cannot fail: the checkpoint is read
// and validated here, and every replica is built from the same state.
func BackboneBuilder(checkpointPath string, h, w, c, classes int, seed int64) (func() *nn.Sequential, error) {
	state, _, err := serialization.Read(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("model: read backbone %s: %w", checkpointPath, err)
	}
	trunk := trunkState(state)
	if _, err := buildWithTrunk(trunk, h, w, c, classes, seed); err != nil {
		return nil, err
	}
	return func() *nn.Sequential {
		m, err := buildWithTrunk(trunk, h, w, c, classes, seed)
		if err != nil {
			// Unreachable: the state was validated against this geometry.
			panic(err)
		}
		return m
	}, nil
}

// buildWithTrunk assembles a frozen-trunk classifier from trunk weights.
func buildWithTrunk(trunkWeights map[string]*tensor.Tensor, h, w, c, classes int, seed int64) (*nn.Sequential, error) {
	rng := rand.New(rand.NewSource(seed))
	trunk := nn.NewSequential(trunkStack(c, rng)...)
	if err := trunk.LoadStateDict(trunkWeights); err != nil {
		return nil, fmt.Errorf("model: load backbone weights: %w", err)
	}
	head := headStack(flatFeatures(h, w), classes, rng)
	layers := append([]nn.Layer{nn.Freeze(trunk)}, head...)
	return nn.NewSequential(layers...), nil
}

// trunkStack returns the convolutional feature extractor ending in Flatten.
func trunkStack(c int, rng *rand.Rand) []nn.Layer {
	return []nn.Layer{
		nn.NewConv2D(c, 32, 3, 1, 1, rng),
		nn.NewReLU(),
		nn.NewMaxPool2D(2, 2),
		nn.NewConv2D(32, 64, 3, 1, 1, rng),
		nn.NewReLU(),
		nn.NewMaxPool2D(2, 2),
		nn.NewFlatten(),
	}
}

// headStack returns the classification head over flat trunk features.
func headStack(features, classes int, rng *rand.Rand) []nn.Layer {
	return []nn.Layer{
		nn.NewDense(features, 128, rng),
		nn.NewReLU(),
		nn.NewDropout(0.5, rng),
		nn.NewDense(128, classes, rng),
	}
}

// flatFeatures computes the trunk output width for an h by w input.
func flatFeatures(h, w int) int {
	return (h / 4) * (w / 4) * 64
}

// trunkState extracts trunk weights from a training checkpoint state.
// Checkpoint keys carry a "model." prefix; the trunk occupies layer indices
// below trunkLayers in the source network and the same indices here.
func trunkState(state map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for name, t := range state {
		key := strings.TrimPrefix(name, "model.")
		var idx int
		if _, err := fmt.Sscanf(key, "layers.%d.", &idx); err != nil {
			continue
		}
		if idx < trunkLayers {
			out[key] = t
		}
	}
	return out
}
