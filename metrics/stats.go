package metrics

import "time"

// Window accumulates per-batch timings and losses across one reporting period.
type Window struct {
	samples int
	gather  time.Duration
	compute time.Duration
	batches int
	loss    float64
	correct float64
}

// Record adds one mini-batch to the window.
func (w *Window) Record(batchSize int, gatherTime, computeTime time.Duration, loss, accuracy float64) {
	w.samples += batchSize
	w.gather += gatherTime
	w.compute += computeTime
	w.batches++
	w.loss += loss * float64(batchSize)
	w.correct += accuracy * float64(batchSize)
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Batches: w.batches, Samples: w.samples}
	total := w.gather + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.batches > 0 {
		snap.AvgGatherMS = (w.gather.Seconds() * 1000) / float64(w.batches)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.batches)
	}
	if w.samples > 0 {
		snap.Loss = w.loss / float64(w.samples)
		snap.Accuracy = w.correct / float64(w.samples)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Batches       int
	Samples       int
	SamplesPerSec float64
	AvgGatherMS   float64
	AvgComputeMS  float64
	Loss          float64
	Accuracy      float64
}
