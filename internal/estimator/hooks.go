package estimator

import (
	"log/slog"
	"time"

	"github.com/kiln-ml/kiln/internal/metrics"
)

// StepResult summarizes one completed training step.
type StepResult struct {
	Step        int64
	Loss        float32
	BatchSize   int
	DataTime    time.Duration
	ComputeTime time.Duration
}

// Hook observes the training loop. Begin runs before the first step with the
// restored step counter, End after the last with the final counter. An
// AfterStep or End error aborts training.
type Hook interface {
	Begin(startStep int64)
	BeforeStep(step int64)
	AfterStep(res StepResult) error
	End(finalStep int64) error
}

// BaseHook is a no-op Hook for embedding.
type BaseHook struct{}

func (BaseHook) Begin(int64)                {}
func (BaseHook) BeforeStep(int64)           {}
func (BaseHook) AfterStep(StepResult) error { return nil }
func (BaseHook) End(int64) error            { return nil }

// StepTimer records per-step wall durations.
type StepTimer struct {
	BaseHook
	durations []time.Duration
}

// NewStepTimer returns an empty timer hook.
func NewStepTimer() *StepTimer { return &StepTimer{} }

func (t *StepTimer) AfterStep(res StepResult) error {
	t.durations = append(t.durations, res.DataTime+res.ComputeTime)
	return nil
}

// Count returns the number of recorded steps.
func (t *StepTimer) Count() int { return len(t.durations) }

// Total returns the summed wall time of all recorded steps.
func (t *StepTimer) Total() time.Duration {
	var total time.Duration
	for _, d := range t.durations {
		total += d
	}
	return total
}

// Average returns the mean step duration, or zero with no steps.
func (t *StepTimer) Average() time.Duration {
	if len(t.durations) == 0 {
		return 0
	}
	return t.Total() / time.Duration(len(t.durations))
}

// Durations exposes the raw per-step measurements.
func (t *StepTimer) Durations() []time.Duration { return t.durations }

// loggingHook emits windowed throughput and loss lines via slog.
type loggingHook struct {
	BaseHook
	logger   *slog.Logger
	logEvery int64
	window   metrics.Window
}

func newLoggingHook(logger *slog.Logger, logEvery int64) *loggingHook {
	return &loggingHook{logger: logger, logEvery: logEvery}
}

func (h *loggingHook) AfterStep(res StepResult) error {
	h.window.Record(res.BatchSize, res.DataTime, res.ComputeTime, float64(res.Loss))
	if res.Step%h.logEvery == 0 {
		snap := h.window.Snapshot()
		h.logger.Info("train",
			"step", res.Step,
			"loss", snap.LastLoss,
			"avg_loss", snap.AvgLoss,
			"examples_per_sec", snap.ExamplesPerSec,
			"data_ms", snap.AvgDataMS,
			"compute_ms", snap.AvgComputeMS,
		)
	}
	return nil
}

func (h *loggingHook) End(finalStep int64) error {
	if h.window.Steps() > 0 {
		snap := h.window.Snapshot()
		h.logger.Info("train",
			"step", finalStep,
			"loss", snap.LastLoss,
			"avg_loss", snap.AvgLoss,
			"examples_per_sec", snap.ExamplesPerSec,
		)
	}
	return nil
}
