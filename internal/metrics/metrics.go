// Package metrics aggregates per-step timing into loggable windows.
package metrics

import "time"

// Window accumulates step measurements between log points.
type Window struct {
	examples int
	data     time.Duration
	compute  time.Duration
	steps    int
	lossSum  float64
	lastLoss float64
}

// Record adds one training step to the window. dataTime is the time spent
// waiting on the input pipeline, computeTime the forward/backward/update time.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.examples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps reports how many steps have been recorded since the last snapshot.
func (w *Window) Steps() int { return w.steps }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{LastLoss: w.lastLoss, Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ExamplesPerSec = float64(w.examples) / total.Seconds()
		snap.StepsPerSec = float64(w.steps) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgLoss = w.lossSum / float64(w.steps)
	}

	w.examples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.lossSum = 0
	return snap
}

// Snapshot is one window's worth of aggregated training metrics.
type Snapshot struct {
	Steps          int
	ExamplesPerSec float64
	StepsPerSec    float64
	AvgDataMS      float64
	AvgComputeMS   float64
	AvgLoss        float64
	LastLoss       float64
}
