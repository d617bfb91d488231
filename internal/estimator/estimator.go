// Package estimator turns a replicated model into a managed training
// runtime: a step loop with hook callbacks, windowed throughput logging,
// periodic checkpointing with pruning, and restore-on-start.
package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/strategy"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// InputFn produces the batch stream feeding a training or evaluation run.
// The batch channel closes when the input is exhausted; the error channel
// reports at most one pipeline failure.
type InputFn func(ctx context.Context) (<-chan data.Batch, <-chan error)

// RunConfig controls checkpointing and log cadence.
type RunConfig struct {
	// ModelDir receives checkpoints. Empty disables checkpointing.
	ModelDir string

	// SaveCheckpointSteps is the save cadence. Defaults to 100.
	SaveCheckpointSteps int

	// LogEverySteps is the metrics log cadence. Defaults to 50.
	LogEverySteps int

	// KeepCheckpointMax bounds retained checkpoints. Defaults to 5;
	// negative keeps everything.
	KeepCheckpointMax int
}

func (c RunConfig) withDefaults() RunConfig {
	if c.SaveCheckpointSteps <= 0 {
		c.SaveCheckpointSteps = 100
	}
	if c.LogEverySteps <= 0 {
		c.LogEverySteps = 50
	}
	if c.KeepCheckpointMax == 0 {
		c.KeepCheckpointMax = 5
	}
	return c
}

// EvalResult aggregates one evaluation pass.
type EvalResult struct {
	Loss     float64
	Accuracy float64
	Samples  int
}

// Estimator drives training, evaluation and prediction for one strategy.
type Estimator struct {
	cfg    RunConfig
	strat  *strategy.Mirrored
	logger *slog.Logger
}

// New wraps strat in an estimator. A nil logger falls back to slog.Default.
func New(cfg RunConfig, strat *strategy.Mirrored, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{cfg: cfg.withDefaults(), strat: strat, logger: logger}
}

// Strategy returns the wrapped strategy.
func (e *Estimator) Strategy() *strategy.Mirrored { return e.strat }

// Train runs up to steps training steps fed by inputFn, resuming from the
// latest checkpoint in ModelDir when one exists. Training stops early when
// the input stream ends or ctx is cancelled; cancellation at a step boundary
// returns ctx.Err().
func (e *Estimator) Train(ctx context.Context, inputFn InputFn, steps int, hooks ...Hook) error {
	if steps <= 0 {
		return fmt.Errorf("estimator: steps must be positive, got %d", steps)
	}

	var start int64
	if e.cfg.ModelDir != "" {
		restored, err := restoreLatest(e.cfg.ModelDir, e.strat)
		if err != nil {
			return err
		}
		if restored > 0 {
			e.logger.Info("restored checkpoint", "step", restored, "dir", e.cfg.ModelDir)
		}
		start = restored
		hooks = append(hooks, &checkpointHook{
			dir:       e.cfg.ModelDir,
			strat:     e.strat,
			saveEvery: int64(e.cfg.SaveCheckpointSteps),
			keep:      e.cfg.KeepCheckpointMax,
			lastSaved: restored,
		})
	}
	hooks = append(hooks, newLoggingHook(e.logger, int64(e.cfg.LogEverySteps)))

	// The pipeline gets its own context so an infinitely repeating input
	// shuts down when this run returns, not when the caller's ctx does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errs := inputFn(ctx)
	e.strat.SetTraining(true)
	defer e.strat.SetTraining(false)

	for _, h := range hooks {
		h.Begin(start)
	}

	step := start
	for step < start+int64(steps) {
		next := step + 1
		for _, h := range hooks {
			h.BeforeStep(next)
		}

		dataStart := time.Now()
		batch, ok, err := nextBatch(ctx, batches, errs)
		if err != nil {
			return fmt.Errorf("estimator: input: %w", err)
		}
		if !ok {
			break
		}
		dataTime := time.Since(dataStart)

		computeStart := time.Now()
		loss, err := e.strat.Step(batch)
		if err != nil {
			return err
		}
		step = next

		res := StepResult{
			Step:        step,
			Loss:        loss,
			BatchSize:   batch.Size(),
			DataTime:    dataTime,
			ComputeTime: time.Since(computeStart),
		}
		for _, h := range hooks {
			if err := h.AfterStep(res); err != nil {
				return err
			}
		}
	}

	for _, h := range hooks {
		if err := h.End(step); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs the model over every batch inputFn produces and returns
// mean loss and accuracy. The input must be finite.
func (e *Estimator) Evaluate(ctx context.Context, inputFn InputFn) (EvalResult, error) {
	e.strat.SetTraining(false)
	model := e.strat.Model()
	loss := nn.NewSoftmaxCrossEntropy()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errs := inputFn(ctx)
	var result EvalResult
	var lossSum float64
	correct := 0
	for {
		batch, ok, err := nextBatch(ctx, batches, errs)
		if err != nil {
			return EvalResult{}, fmt.Errorf("estimator: input: %w", err)
		}
		if !ok {
			break
		}
		logits := model.Forward(batch.Images)
		n := batch.Size()
		lossSum += float64(loss.Forward(logits, batch.Labels)) * float64(n)
		pred := logits.ArgmaxRows()
		for i, p := range pred {
			if p == batch.LabelIDs[i] {
				correct++
			}
		}
		result.Samples += n
	}
	if result.Samples == 0 {
		return EvalResult{}, fmt.Errorf("estimator: evaluation input produced no batches")
	}
	result.Loss = lossSum / float64(result.Samples)
	result.Accuracy = float64(correct) / float64(result.Samples)
	return result, nil
}

// Predict runs a forward pass in eval mode and returns the predicted class
// index for each row of the batch.
func (e *Estimator) Predict(images *tensor.Tensor) []int {
	e.strat.SetTraining(false)
	return e.strat.Model().Forward(images).ArgmaxRows()
}

// RestoreCheckpoint loads an explicit checkpoint file, bypassing the
// latest-in-ModelDir lookup.
func (e *Estimator) RestoreCheckpoint(path string) (int64, error) {
	return restoreCheckpoint(path, e.strat)
}

func nextBatch(ctx context.Context, batches <-chan data.Batch, errs <-chan error) (data.Batch, bool, error) {
	select {
	case <-ctx.Done():
		return data.Batch{}, false, ctx.Err()
	case err := <-errs:
		return data.Batch{}, false, err
	case batch, ok := <-batches:
		if !ok {
			// The pipeline closes the batch channel on failure too;
			// pick up the pending error if one was reported.
			select {
			case err := <-errs:
				return data.Batch{}, false, err
			default:
			}
			return data.Batch{}, false, nil
		}
		return batch, true, nil
	}
}
