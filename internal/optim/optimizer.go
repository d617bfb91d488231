// Package optim implements gradient-descent optimizers for kiln models.
//
// Optimizers update Parameter values in place from the gradients accumulated
// by the nn backward passes. State (momentum buffers, Adam moments) is keyed
// by parameter index so it survives checkpoint save/load as long as the model
// architecture is unchanged.
package optim

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Optimizer is the interface shared by SGD and Adam.
type Optimizer interface {
	// Step applies one update using the gradients currently accumulated in
	// the parameters.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32

	// SetLR updates the learning rate (for schedules).
	SetLR(lr float32)

	// StateDict exports optimizer state for checkpointing.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores optimizer state from a checkpoint.
	LoadStateDict(state map[string]*tensor.Tensor) error
}
