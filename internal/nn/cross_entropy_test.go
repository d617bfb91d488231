package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestSoftmaxCrossEntropy_UniformLogits(t *testing.T) {
	loss := NewSoftmaxCrossEntropy()

	// Equal logits: loss must be ln(classes) regardless of the target.
	logits := tensor.Zeros(tensor.Shape{2, 4})
	targets := oneHotRows([]int{0, 3}, 4)

	got := loss.Forward(logits, targets)
	assert.InDelta(t, math.Log(4), float64(got), 1e-5)
}

func TestSoftmaxCrossEntropy_ConfidentCorrect(t *testing.T) {
	loss := NewSoftmaxCrossEntropy()

	logits, err := tensor.FromSlice([]float32{10, 0, 0}, tensor.Shape{1, 3})
	require.NoError(t, err)
	targets := oneHotRows([]int{0}, 3)

	got := loss.Forward(logits, targets)
	assert.Less(t, float64(got), 0.01, "confident correct prediction should have near-zero loss")
}

func TestSoftmaxCrossEntropy_LargeLogitsStable(t *testing.T) {
	loss := NewSoftmaxCrossEntropy()

	// Values past the float32 exp overflow point must not produce Inf/NaN.
	logits, err := tensor.FromSlice([]float32{500, 499, -500}, tensor.Shape{1, 3})
	require.NoError(t, err)
	targets := oneHotRows([]int{1}, 3)

	got := loss.Forward(logits, targets)
	require.False(t, math.IsNaN(float64(got)))
	require.False(t, math.IsInf(float64(got), 0))
	assert.InDelta(t, 1.3133, float64(got), 1e-3) // -log(softmax[1]) with gap 1
}

func TestSoftmaxCrossEntropy_BackwardSumsToZero(t *testing.T) {
	loss := NewSoftmaxCrossEntropy()

	logits, _ := tensor.FromSlice([]float32{1, 2, 3, 3, 2, 1}, tensor.Shape{2, 3})
	targets := oneHotRows([]int{2, 0}, 3)

	loss.Forward(logits, targets)
	grad := loss.Backward()

	// Each row of probs - onehot sums to zero.
	for b := 0; b < 2; b++ {
		var rowSum float32
		for c := 0; c < 3; c++ {
			rowSum += grad.Data()[b*3+c]
		}
		assert.InDelta(t, 0, float64(rowSum), 1e-6)
	}
}

func TestSoftmaxCrossEntropy_ProbsSumToOne(t *testing.T) {
	loss := NewSoftmaxCrossEntropy()

	logits, _ := tensor.FromSlice([]float32{0.5, -1, 2, 7, 0.1, 0.2, 0.3, 0.4}, tensor.Shape{2, 4})
	targets := oneHotRows([]int{2, 1}, 4)
	loss.Forward(logits, targets)

	for b := 0; b < 2; b++ {
		var rowSum float32
		for c := 0; c < 4; c++ {
			rowSum += loss.probs.Data()[b*4+c]
		}
		assert.InDelta(t, 1, float64(rowSum), 1e-5)
	}
}

func TestAccuracy(t *testing.T) {
	logits, _ := tensor.FromSlice([]float32{
		0.9, 0.1, // pred 0
		0.2, 0.8, // pred 1
		0.6, 0.4, // pred 0
	}, tensor.Shape{3, 2})
	targets := oneHotRows([]int{0, 1, 1}, 2)

	got := Accuracy(logits, targets)
	assert.InDelta(t, 2.0/3.0, float64(got), 1e-6)
}
