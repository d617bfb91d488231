package nn

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// SoftmaxCrossEntropy computes cross-entropy loss against one-hot targets.
//
// The forward pass uses the LogSoftmax decomposition with the log-sum-exp
// trick for numerical stability:
//
//	loss = -Σ targets ⊙ LogSoftmax(logits) / batch
//
// The backward gradient has the closed form
//
//	∂L/∂logits = (Softmax(logits) - targets) / batch
//
// which is why the loss keeps the probabilities from the forward pass.
type SoftmaxCrossEntropy struct {
	probs   *tensor.Tensor // [batch, classes], cached softmax output
	targets *tensor.Tensor // [batch, classes], cached one-hot targets
}

// NewSoftmaxCrossEntropy creates the loss.
func NewSoftmaxCrossEntropy() *SoftmaxCrossEntropy {
	return &SoftmaxCrossEntropy{}
}

// Forward returns the mean cross-entropy over the batch.
//
// logits and targets must both be [batch, classes]; targets rows are one-hot.
func (s *SoftmaxCrossEntropy) Forward(logits, targets *tensor.Tensor) float32 {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross entropy: logits must be 2D [batch, classes], got %v", shape))
	}
	if !shape.Equal(targets.Shape()) {
		panic(fmt.Sprintf("cross entropy: logits %v and targets %v differ", shape, targets.Shape()))
	}

	batch, classes := shape[0], shape[1]
	s.probs = tensor.New(shape)
	s.targets = targets

	logitsData := logits.Data()
	probsData := s.probs.Data()
	targetsData := targets.Data()

	var totalLoss float32
	for b := 0; b < batch; b++ {
		row := logitsData[b*classes : (b+1)*classes]

		// Log-sum-exp with the running max subtracted.
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sumExp float32
		for _, v := range row {
			sumExp += float32(math.Exp(float64(v - maxV)))
		}
		logSumExp := maxV + float32(math.Log(float64(sumExp)))

		for c := 0; c < classes; c++ {
			logProb := row[c] - logSumExp
			probsData[b*classes+c] = float32(math.Exp(float64(logProb)))
			totalLoss -= targetsData[b*classes+c] * logProb
		}
	}
	return totalLoss / float32(batch)
}

// Backward returns ∂L/∂logits = (probs - targets) / batch.
func (s *SoftmaxCrossEntropy) Backward() *tensor.Tensor {
	if s.probs == nil {
		panic("cross entropy: Backward called before Forward")
	}
	batch := s.probs.Shape()[0]
	grad := s.probs.Sub(s.targets)
	grad.ScaleInPlace(1 / float32(batch))
	return grad
}

// Accuracy returns the fraction of rows where argmax(logits) selects the
// one-hot target class.
func Accuracy(logits, targets *tensor.Tensor) float32 {
	if !logits.Shape().Equal(targets.Shape()) {
		panic(fmt.Sprintf("accuracy: logits %v and targets %v differ", logits.Shape(), targets.Shape()))
	}
	pred := logits.ArgmaxRows()
	truth := targets.ArgmaxRows()
	correct := 0
	for i := range pred {
		if pred[i] == truth[i] {
			correct++
		}
	}
	return float32(correct) / float32(len(pred))
}
