package strategy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/device"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func testBuild() *nn.Sequential {
	rng := rand.New(rand.NewSource(7))
	return nn.NewSequential(
		nn.NewFlatten(),
		nn.NewDense(4, 3, rng),
	)
}

func testOpt(params []*nn.Parameter) optim.Optimizer {
	return optim.NewSGD(params, optim.SGDConfig{LR: 0.1})
}

func testBatch(t *testing.T, n int) data.Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	pixels := make([]float32, n*4)
	labels := make([]int, n)
	for i := range pixels {
		pixels[i] = rng.Float32()
	}
	for i := range labels {
		labels[i] = i % 3
	}
	images, err := tensor.FromSlice(pixels, tensor.Shape{n, 2, 2, 1})
	require.NoError(t, err)
	return data.Batch{Images: images, Labels: data.OneHot(labels, 3), LabelIDs: labels}
}

func TestMirrored_MatchesSingleReplica(t *testing.T) {
	devices := device.Discover(3)
	multi, err := NewMirrored(devices, testBuild, testOpt)
	require.NoError(t, err)
	single, err := NewMirrored(devices[:1], testBuild, testOpt)
	require.NoError(t, err)

	batch := testBatch(t, 8)
	for step := 0; step < 3; step++ {
		lossMulti, err := multi.Step(batch)
		require.NoError(t, err)
		lossSingle, err := single.Step(batch)
		require.NoError(t, err)
		require.InDelta(t, lossSingle, lossMulti, 1e-5, "step %d loss", step)
	}

	wantState := single.Model().StateDict()
	gotState := multi.Model().StateDict()
	require.Len(t, gotState, len(wantState))
	for name, want := range wantState {
		got, ok := gotState[name]
		require.True(t, ok, "missing %s", name)
		for i, w := range want.Data() {
			require.InDelta(t, w, got.Data()[i], 1e-5, "%s[%d]", name, i)
		}
	}
}

func TestMirrored_BroadcastKeepsReplicasInSync(t *testing.T) {
	m, err := NewMirrored(device.Discover(2), testBuild, testOpt)
	require.NoError(t, err)

	_, err = m.Step(testBatch(t, 6))
	require.NoError(t, err)

	primary := m.replicas[0].StateDict()
	for i := 1; i < len(m.replicas); i++ {
		other := m.replicas[i].StateDict()
		for name, want := range primary {
			got := other[name]
			require.NotNil(t, got, "replica %d missing %s", i, name)
			require.Equal(t, want.Data(), got.Data(), "replica %d %s", i, name)
		}
	}
}

func TestMirrored_EmptyBatch(t *testing.T) {
	m, err := NewMirrored(device.Discover(1), testBuild, testOpt)
	require.NoError(t, err)
	_, err = m.Step(data.Batch{})
	require.Error(t, err)
}

func TestShard_Sizes(t *testing.T) {
	batch := testBatch(t, 5)
	shards := shard(batch, 2)
	require.Len(t, shards, 2)
	require.Equal(t, 3, shards[0].Size())
	require.Equal(t, 2, shards[1].Size())
	require.Equal(t, []int{0, 1, 2}, shards[0].LabelIDs)
	require.Equal(t, []int{0, 1}, shards[1].LabelIDs)

	small := testBatch(t, 2)
	shards = shard(small, 4)
	require.Len(t, shards, 2)
	for _, sh := range shards {
		require.Equal(t, 1, sh.Size())
	}
}

func TestShard_PreservesPixels(t *testing.T) {
	batch := testBatch(t, 4)
	shards := shard(batch, 2)
	var mean float64
	for _, sh := range shards {
		for _, v := range sh.Images.Data() {
			mean += float64(v)
		}
	}
	var want float64
	for _, v := range batch.Images.Data() {
		want += float64(v)
	}
	require.True(t, math.Abs(mean-want) < 1e-6)
}
