package model

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/serialization"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func testImages(t *testing.T, n, h, w, c int) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	pixels := make([]float32, n*h*w*c)
	for i := range pixels {
		pixels[i] = rng.Float32()
	}
	images, err := tensor.FromSlice(pixels, tensor.Shape{n, h, w, c})
	require.NoError(t, err)
	return images
}

// writeTrainingCheckpoint stores m's weights the way a training run does,
// under "model."-prefixed keys.
func writeTrainingCheckpoint(t *testing.T, m *nn.Sequential, path string) {
	t.Helper()
	state := make(map[string]*tensor.Tensor)
	for name, v := range m.StateDict() {
		state["model."+name] = v
	}
	require.NoError(t, serialization.Write(path, state, &serialization.CheckpointMeta{Step: 42}))
}

func TestConvNet_OutputShape(t *testing.T) {
	m := ConvNet(8, 8, 1, 3, 1)
	m.SetTraining(false)

	out := m.Forward(testImages(t, 2, 8, 8, 1))
	require.True(t, out.Shape().Equal(tensor.Shape{2, 3}))
	require.Greater(t, m.NumParameters(), 0)
}

func TestConvNet_RGBInput(t *testing.T) {
	m := ConvNet(16, 16, 3, 5, 1)
	m.SetTraining(false)

	out := m.Forward(testImages(t, 1, 16, 16, 3))
	require.True(t, out.Shape().Equal(tensor.Shape{1, 5}))
}

func TestWithBackbone_ReusesTrunkWeights(t *testing.T) {
	src := ConvNet(8, 8, 1, 3, 1)
	path := filepath.Join(t.TempDir(), "pretrained.kiln")
	writeTrainingCheckpoint(t, src, path)

	// A different class count and seed: only the trunk transfers.
	m, err := WithBackbone(path, 8, 8, 1, 5, 99)
	require.NoError(t, err)

	frozen, ok := m.Layers()[0].(*nn.Frozen)
	require.True(t, ok, "first layer should be the frozen trunk")
	trunk, ok := frozen.Inner().(*nn.Sequential)
	require.True(t, ok)

	srcState := src.StateDict()
	for name, got := range trunk.StateDict() {
		want, ok := srcState[name]
		require.True(t, ok, "trunk key %s missing from source", name)
		require.Equal(t, want.Data(), got.Data(), "trunk weights for %s should transfer", name)
	}

	m.SetTraining(false)
	out := m.Forward(testImages(t, 2, 8, 8, 1))
	require.True(t, out.Shape().Equal(tensor.Shape{2, 5}))
}

func TestWithBackbone_OnlyHeadTrains(t *testing.T) {
	src := ConvNet(8, 8, 1, 3, 1)
	path := filepath.Join(t.TempDir(), "pretrained.kiln")
	writeTrainingCheckpoint(t, src, path)

	m, err := WithBackbone(path, 8, 8, 1, 3, 7)
	require.NoError(t, err)

	// Dense weight and bias for the two head layers only.
	require.Len(t, m.Parameters(), 4)

	frozen := m.Layers()[0].(*nn.Frozen)
	trunk := frozen.Inner().(*nn.Sequential)
	before := make(map[string][]float32)
	for name, v := range trunk.StateDict() {
		before[name] = append([]float32(nil), v.Data()...)
	}

	opt := optim.NewSGD(m.Parameters(), optim.SGDConfig{LR: 0.5})
	loss := nn.NewSoftmaxCrossEntropy()
	m.SetTraining(true)
	images := testImages(t, 4, 8, 8, 1)
	labels := data.OneHot([]int{0, 1, 2, 0}, 3)
	for i := 0; i < 3; i++ {
		m.ZeroGrad()
		logits := m.Forward(images)
		loss.Forward(logits, labels)
		m.Backward(loss.Backward())
		opt.Step()
	}

	for name, v := range trunk.StateDict() {
		require.Equal(t, before[name], v.Data(), "frozen trunk weight %s changed", name)
	}
}

func TestBackboneBuilder_IndependentReplicas(t *testing.T) {
	src := ConvNet(8, 8, 1, 3, 1)
	path := filepath.Join(t.TempDir(), "pretrained.kiln")
	writeTrainingCheckpoint(t, src, path)

	build, err := BackboneBuilder(path, 8, 8, 1, 3, 7)
	require.NoError(t, err)

	a, b := build(), build()
	require.NotSame(t, a, b)

	// Same seed, same trunk state: replicas start identical.
	stateA, stateB := a.StateDict(), b.StateDict()
	require.Len(t, stateB, len(stateA))
	for name, v := range stateA {
		require.Equal(t, v.Data(), stateB[name].Data(), name)
	}
}

func TestWithBackbone_MissingCheckpoint(t *testing.T) {
	_, err := WithBackbone(filepath.Join(t.TempDir(), "absent.kiln"), 8, 8, 1, 3, 1)
	require.Error(t, err)
}
