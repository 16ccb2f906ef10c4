package ml

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/b0tShaman/dicify/metrics"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidFit reports unusable training hyperparameters.
var ErrInvalidFit = errors.New("invalid fit config")

type FitConfig struct {
	Epochs          int
	BatchSize       int
	LearningRate    float64
	NumWorkers      int
	ValidationSplit float64 // Tail fraction of the rows held out for validation
	LogEvery        int     // How often to log progress (in epochs); 0 disables logging

	// Optimizer Selection
	Optimizer OptimizerType

	// Optimizer Hyperparameters (Zero values will use defaults)
	MomentumMu float64
	AdamBeta1  float64
	AdamBeta2  float64
	AdamEps    float64

	// Rand drives the per-epoch shuffle. Nil means a randomly seeded source.
	Rand *rand.Rand
}

// EpochStats summarises one pass over the training rows.
type EpochStats struct {
	Epoch         int
	Loss          float64
	LossStdDev    float64
	Accuracy      float64
	ValLoss       float64
	ValAccuracy   float64
	HasValidation bool
	Batches       int
	SamplesPerSec float64
	AvgGatherMS   float64
	AvgComputeMS  float64
	Elapsed       time.Duration
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs          []EpochStats
	TrainSamples    int
	ValidateSamples int
}

// Last returns the final epoch, or the zero value if no epoch completed.
func (h *History) Last() EpochStats {
	if h == nil || len(h.Epochs) == 0 {
		return EpochStats{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

// Fit trains nw on X against one-hot targets Y with mini-batch data
// parallelism: each batch is split evenly across NumWorkers clones whose
// gradients are averaged before a single optimizer step. The last
// ValidationSplit of the rows is held out and evaluated after every epoch.
// Training rows are reshuffled every epoch; a trailing partial batch is skipped.
func Fit(ctx context.Context, nw *NeuralNetwork, X, Y *Matrix, cfg FitConfig) (*History, error) {
	if err := validateFit(nw, X, Y, cfg); err != nil {
		return nil, err
	}

	splitAt := int(float64(X.rows) * (1 - cfg.ValidationSplit))
	if splitAt < cfg.BatchSize {
		return nil, fmt.Errorf("%w: %d training rows is less than one batch of %d", ErrInvalidFit, splitAt, cfg.BatchSize)
	}
	trainX := NewMatrixFromSlice(splitAt, X.cols, X.data[:splitAt*X.cols])
	trainY := NewMatrixFromSlice(splitAt, Y.cols, Y.data[:splitAt*Y.cols])
	var valX, valY *Matrix
	if splitAt < X.rows {
		valX = NewMatrixFromSlice(X.rows-splitAt, X.cols, X.data[splitAt*X.cols:])
		valY = NewMatrixFromSlice(Y.rows-splitAt, Y.cols, Y.data[splitAt*Y.cols:])
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	// 1. Setup & Allocation
	optimizer := NewOptimizer(nw, cfg)
	localBatchSize := cfg.BatchSize / cfg.NumWorkers
	numSamples := trainX.rows

	workers, workerGrads := initializeWorkers(nw, cfg.NumWorkers, localBatchSize)
	finalGrads := initializeMasterGradients(nw)
	workerTargets, workerLosses, workerAccs := initializeAuxBuffers(cfg.NumWorkers, localBatchSize, Y.cols)
	globalIndices := NewIndexList(numSamples)

	history := &History{TrainSamples: splitAt, ValidateSamples: X.rows - splitAt}
	var window metrics.Window
	var batchLosses []float64

	// 2. Training Loop
	start := time.Now()
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		ShuffleIndices(rng, globalIndices)
		batchLosses = batchLosses[:0]

		for batchStart := 0; batchStart+cfg.BatchSize <= numSamples; batchStart += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			// --- A. Gather ---
			gatherStart := time.Now()
			for i := 0; i < cfg.NumWorkers; i++ {
				wStart := batchStart + (i * localBatchSize)
				Gather(globalIndices[wStart:wStart+localBatchSize], trainX, trainY, workers[i].InputBuf, workerTargets[i])
			}
			gatherTime := time.Since(gatherStart)

			// --- B. Data Parallelism: Dispatch Workers ---
			computeStart := time.Now()
			var wg sync.WaitGroup
			wg.Add(cfg.NumWorkers)
			for i := 0; i < cfg.NumWorkers; i++ {
				go func(id int) {
					defer wg.Done()
					workers[id].Forward(workers[id].InputBuf)
					loss, acc := workers[id].ComputeGradients(workers[id].InputBuf, workerTargets[id], workerGrads[id])
					workerLosses[id] = loss
					workerAccs[id] = acc
				}(i)
			}
			wg.Wait()

			// --- C. Aggregation Logic ---
			scale := 1.0 / float64(cfg.NumWorkers)
			for l := range finalGrads {
				finalDW := finalGrads[l].dW
				finalDB := finalGrads[l].db

				copy(finalDW.data, workerGrads[0][l].dW.data)
				copy(finalDB.data, workerGrads[0][l].db.data)

				for w := 1; w < cfg.NumWorkers; w++ {
					floats.Add(finalDW.data, workerGrads[w][l].dW.data)
					floats.Add(finalDB.data, workerGrads[w][l].db.data)
				}

				floats.Scale(scale, finalDW.data)
				floats.Scale(scale, finalDB.data)
			}

			// --- D. Optimization & Tracking ---
			optimizer.Update(nw, finalGrads)

			batchLoss := floats.Sum(workerLosses) * scale
			batchAcc := floats.Sum(workerAccs) * scale
			batchLosses = append(batchLosses, batchLoss)
			window.Record(cfg.BatchSize, gatherTime, time.Since(computeStart), batchLoss, batchAcc)
		}

		snap := window.Snapshot()
		stats := EpochStats{
			Epoch:         epoch,
			Loss:          snap.Loss,
			Accuracy:      snap.Accuracy,
			Batches:       snap.Batches,
			SamplesPerSec: snap.SamplesPerSec,
			AvgGatherMS:   snap.AvgGatherMS,
			AvgComputeMS:  snap.AvgComputeMS,
			Elapsed:       time.Since(start),
		}
		if len(batchLosses) > 1 {
			_, stats.LossStdDev = stat.MeanStdDev(batchLosses, nil)
		}

		if valX != nil {
			valLoss, valAcc, err := nw.Evaluate(valX, valY)
			if err != nil {
				return history, err
			}
			stats.ValLoss, stats.ValAccuracy, stats.HasValidation = valLoss, valAcc, true
		}
		history.Epochs = append(history.Epochs, stats)

		if cfg.LogEvery > 0 && (epoch%cfg.LogEvery == 0 || epoch == 1 || epoch == cfg.Epochs) {
			logEpoch(stats)
		}
	}

	return history, nil
}

func logEpoch(s EpochStats) {
	if s.HasValidation {
		log.Printf("epoch=%d loss=%.4f acc=%.2f%% val_loss=%.4f val_acc=%.2f%% batches=%d samples_per_sec=%.0f gather_ms=%.3f compute_ms=%.3f elapsed=%v",
			s.Epoch, s.Loss, s.Accuracy*100, s.ValLoss, s.ValAccuracy*100,
			s.Batches, s.SamplesPerSec, s.AvgGatherMS, s.AvgComputeMS, s.Elapsed.Round(time.Millisecond))
		return
	}
	log.Printf("epoch=%d loss=%.4f acc=%.2f%% batches=%d samples_per_sec=%.0f gather_ms=%.3f compute_ms=%.3f elapsed=%v",
		s.Epoch, s.Loss, s.Accuracy*100, s.Batches, s.SamplesPerSec, s.AvgGatherMS, s.AvgComputeMS, s.Elapsed.Round(time.Millisecond))
}

func validateFit(nw *NeuralNetwork, X, Y *Matrix, cfg FitConfig) error {
	if X == nil || Y == nil || X.rows != Y.rows {
		return fmt.Errorf("%w: inputs and targets differ in row count", ErrShapeMismatch)
	}
	if X.cols != nw.InputDim {
		return fmt.Errorf("%w: expected %d input features, got %d", ErrShapeMismatch, nw.InputDim, X.cols)
	}
	if Y.cols != nw.OutputDim() {
		return fmt.Errorf("%w: expected %d target classes, got %d", ErrShapeMismatch, nw.OutputDim(), Y.cols)
	}
	if cfg.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be > 0 (got %d)", ErrInvalidFit, cfg.Epochs)
	}
	if cfg.BatchSize <= 0 || cfg.NumWorkers <= 0 {
		return fmt.Errorf("%w: batch size and workers must be > 0", ErrInvalidFit)
	}
	if cfg.BatchSize%cfg.NumWorkers != 0 {
		return fmt.Errorf("%w: batch size %d must be divisible by %d workers", ErrInvalidFit, cfg.BatchSize, cfg.NumWorkers)
	}
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be > 0", ErrInvalidFit)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return fmt.Errorf("%w: validation split must be in [0, 1) (got %g)", ErrInvalidFit, cfg.ValidationSplit)
	}
	return nil
}

// initializeWorkers creates clones of the network and allocates gradient memory for each worker
func initializeWorkers(nw *NeuralNetwork, numWorkers, localBatchSize int) ([]*NeuralNetwork, [][]GradientSet) {
	workers := make([]*NeuralNetwork, numWorkers)
	workerGrads := make([][]GradientSet, numWorkers)

	for i := 0; i < numWorkers; i++ {
		workers[i] = nw.CloneStructure()
		workers[i].InitializeBuffers(localBatchSize)
		workerGrads[i] = initializeMasterGradients(nw)
	}
	return workers, workerGrads
}

// initializeMasterGradients allocates one gradient set per layer
func initializeMasterGradients(nw *NeuralNetwork) []GradientSet {
	grads := make([]GradientSet, len(nw.Layers))
	for l, layer := range nw.Layers {
		grads[l].dW = NewMatrix(layer.Weights.rows, layer.Weights.cols)
		grads[l].db = NewMatrix(layer.Biases.rows, layer.Biases.cols)
	}
	return grads
}

// initializeAuxBuffers creates buffers for targets, losses, and accuracy
func initializeAuxBuffers(numWorkers, localBatchSize, classes int) ([]*Matrix, []float64, []float64) {
	workerTargets := make([]*Matrix, numWorkers)
	for i := 0; i < numWorkers; i++ {
		workerTargets[i] = NewMatrix(localBatchSize, classes)
	}
	return workerTargets, make([]float64, numWorkers), make([]float64, numWorkers)
}

// ------ DATA HANDLING HELPERS ------
func NewIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func ShuffleIndices(rng *rand.Rand, indices []int) {
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}

// Gather copies the selected rows of X and Y into a worker's contiguous
// buffers, so the global arrays never need reshuffling.
func Gather(batchIndices []int, X, Y *Matrix, destX, destY *Matrix) {
	for localRowIdx, realDataIdx := range batchIndices {
		copy(destX.Row(localRowIdx), X.Row(realDataIdx))
		copy(destY.Row(localRowIdx), Y.Row(realDataIdx))
	}
}
