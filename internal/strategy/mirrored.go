// Package strategy implements synchronous data-parallel training.
//
// Mirrored keeps one model replica per device, splits each incoming batch
// into contiguous shards, runs forward and backward on every replica
// concurrently, averages the replica gradients weighted by shard size into
// the primary replica, applies a single optimizer step there, then copies
// the updated weights back to every replica. A mirrored step over a batch
// produces the same update as a single-replica step over the whole batch.
package strategy

import (
	"fmt"
	"sync"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/device"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// BuildFunc constructs one model replica. Every call must produce the same
// architecture; weights are overwritten by a broadcast from the primary.
type BuildFunc func() *nn.Sequential

// Mirrored is a synchronous all-replica training strategy.
type Mirrored struct {
	devices  []device.Device
	replicas []*nn.Sequential
	losses   []*nn.SoftmaxCrossEntropy
	opt      optim.Optimizer
}

// NewMirrored builds one replica per device and an optimizer over the first
// replica's trainable parameters. The first replica is the primary: its
// weights are broadcast to the others before training starts.
func NewMirrored(devices []device.Device, build BuildFunc, newOpt func([]*nn.Parameter) optim.Optimizer) (*Mirrored, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("strategy: no devices")
	}
	m := &Mirrored{
		devices:  devices,
		replicas: make([]*nn.Sequential, len(devices)),
		losses:   make([]*nn.SoftmaxCrossEntropy, len(devices)),
	}
	for i := range m.replicas {
		m.replicas[i] = build()
		m.losses[i] = nn.NewSoftmaxCrossEntropy()
	}
	primary := m.replicas[0]
	m.opt = newOpt(primary.Parameters())
	if err := m.Broadcast(); err != nil {
		return nil, err
	}
	return m, nil
}

// Model returns the primary replica. Checkpointing and evaluation use it.
func (m *Mirrored) Model() *nn.Sequential { return m.replicas[0] }

// Optimizer returns the optimizer driving the primary replica.
func (m *Mirrored) Optimizer() optim.Optimizer { return m.opt }

// NumReplicas returns the replica count.
func (m *Mirrored) NumReplicas() int { return len(m.replicas) }

// SetTraining switches every replica between train and eval mode.
func (m *Mirrored) SetTraining(training bool) {
	for _, r := range m.replicas {
		r.SetTraining(training)
	}
}

// Broadcast copies the primary replica's weights into every other replica.
func (m *Mirrored) Broadcast() error {
	state := m.replicas[0].StateDict()
	for i := 1; i < len(m.replicas); i++ {
		if err := m.replicas[i].LoadStateDict(state); err != nil {
			return fmt.Errorf("strategy: broadcast to replica %d: %w", i, err)
		}
	}
	return nil
}

// Step runs one synchronous training step over batch and returns the
// batch-weighted mean loss.
func (m *Mirrored) Step(batch data.Batch) (float32, error) {
	total := batch.Size()
	if total == 0 {
		return 0, fmt.Errorf("strategy: empty batch")
	}

	shards := shard(batch, len(m.replicas))
	losses := make([]float32, len(shards))

	var wg sync.WaitGroup
	for i, sh := range shards {
		wg.Add(1)
		go func(i int, sh data.Batch) {
			defer wg.Done()
			replica, loss := m.replicas[i], m.losses[i]
			replica.ZeroGrad()
			logits := replica.Forward(sh.Images)
			losses[i] = loss.Forward(logits, sh.Labels)
			replica.Backward(loss.Backward())
		}(i, sh)
	}
	wg.Wait()

	// Per-shard gradients are already shard means, so weighting by shard
	// size reconstructs the whole-batch mean gradient on the primary.
	primaryParams := m.replicas[0].Parameters()
	var meanLoss float32
	for i, sh := range shards {
		weight := float32(sh.Size()) / float32(total)
		meanLoss += weight * losses[i]
		if i == 0 {
			for _, p := range primaryParams {
				p.Grad().ScaleInPlace(weight)
			}
			continue
		}
		for j, p := range m.replicas[i].Parameters() {
			primaryParams[j].Grad().AddScaledInPlace(p.Grad(), weight)
		}
	}

	m.opt.Step()
	if err := m.Broadcast(); err != nil {
		return 0, err
	}
	return meanLoss, nil
}

// shard splits batch into at most n contiguous shards of near-equal size.
// When the batch is smaller than n, fewer shards are returned.
func shard(batch data.Batch, n int) []data.Batch {
	total := batch.Size()
	if n > total {
		n = total
	}
	dims := batch.Images.Shape()
	rowLen := dims[1] * dims[2] * dims[3]
	classes := batch.Labels.Shape()[1]

	shards := make([]data.Batch, 0, n)
	base, rem := total/n, total%n
	lo := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		hi := lo + size
		images, _ := tensor.FromSlice(
			batch.Images.Data()[lo*rowLen:hi*rowLen],
			tensor.Shape{size, dims[1], dims[2], dims[3]})
		labels, _ := tensor.FromSlice(
			batch.Labels.Data()[lo*classes:hi*classes],
			tensor.Shape{size, classes})
		shards = append(shards, data.Batch{
			Images:   images,
			Labels:   labels,
			LabelIDs: batch.LabelIDs[lo:hi],
		})
		lo = hi
	}
	return shards
}
