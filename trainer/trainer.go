// Package trainer fits the dice-face classifier on a corpus and persists it.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/b0tShaman/dicify/data"
	"github.com/b0tShaman/dicify/ml"
	"github.com/klauspost/cpuid/v2"
)

// Config captures the knobs of one training run. Zero values pick the
// defaults: 20 epochs of batch 32 at 0.005 on one worker, a 20% test split
// and a 10% validation tail. NoHoldout trains and saves on every sample.
type Config struct {
	CorpusPath string
	Corpus     *data.Corpus // Used instead of CorpusPath when set
	ModelPath  string

	Epochs          int
	BatchSize       int
	NumWorkers      int
	LearningRate    float64
	ValidationSplit float64
	TestSplit       float64
	Optimizer       string
	NoHoldout       bool
	Seed            uint64 // 0 picks a random seed
	LogEvery        int
}

// Report summarises a finished run.
type Report struct {
	RunID        string
	ModelPath    string
	Seed         uint64
	TrainSamples int
	TestSamples  int
	TestLoss     float64
	TestAccuracy float64
	History      *ml.History
	Elapsed      time.Duration
}

const (
	defaultEpochs          = 20
	defaultBatchSize       = 32
	defaultLearningRate    = 0.005
	defaultTestSplit       = 0.2
	defaultValidationSplit = 0.1
)

func (c *Config) applyDefaults() {
	if c.Epochs == 0 {
		c.Epochs = defaultEpochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = 1
	}
	if c.LearningRate == 0 {
		c.LearningRate = defaultLearningRate
	}
	if c.NoHoldout {
		c.TestSplit, c.ValidationSplit = 0, 0
	} else {
		if c.TestSplit == 0 {
			c.TestSplit = defaultTestSplit
		}
		if c.ValidationSplit == 0 {
			c.ValidationSplit = defaultValidationSplit
		}
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
}

// Run loads the corpus, shuffles and splits it, fits the classifier, scores
// it on the held-out test slice and writes the model artifact to ModelPath.
// Nothing is written if any step fails or ctx is cancelled.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	start := time.Now()
	cfg.applyDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path is required", data.ErrConfiguration)
	}
	optimizer, err := ml.ParseOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrConfiguration, err)
	}

	logHardware(cfg)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	// 1. Corpus
	corpus := cfg.Corpus
	if corpus == nil {
		corpus, err = data.LoadCorpus(cfg.CorpusPath)
		if err != nil {
			return nil, err
		}
	} else if err := corpus.Validate(); err != nil {
		return nil, err
	}

	// 2. Dataset
	patches := corpus.Patches()
	data.Shuffle(rng, patches)
	train, test, err := data.Split(patches, cfg.TestSplit)
	if err != nil {
		return nil, err
	}
	trainX, trainY, err := data.Tensors(train)
	if err != nil {
		return nil, err
	}
	log.Printf("dataset samples=%d train=%d test=%d validation_split=%g seed=%d",
		len(patches), len(train), len(test), cfg.ValidationSplit, cfg.Seed)

	// 3. Fit
	nw, err := ml.BuildNetwork(rng, ml.DiceLayers(data.TileSize, data.NumClasses)...)
	if err != nil {
		return nil, configError(err)
	}
	history, err := ml.Fit(ctx, nw, trainX, trainY, ml.FitConfig{
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		LearningRate:    cfg.LearningRate,
		NumWorkers:      cfg.NumWorkers,
		ValidationSplit: cfg.ValidationSplit,
		LogEvery:        cfg.LogEvery,
		Optimizer:       optimizer,
		Rand:            rng,
	})
	if err != nil {
		return nil, configError(err)
	}

	report := &Report{
		ModelPath:    cfg.ModelPath,
		Seed:         cfg.Seed,
		TrainSamples: len(train),
		TestSamples:  len(test),
		History:      history,
	}

	// 4. Evaluate
	if len(test) > 0 {
		testX, testY, err := data.Tensors(test)
		if err != nil {
			return nil, err
		}
		report.TestLoss, report.TestAccuracy, err = nw.Evaluate(testX, testY)
		if err != nil {
			return nil, configError(err)
		}
		log.Printf("test loss=%.4f acc=%.2f%%", report.TestLoss, report.TestAccuracy*100)
	}

	// 5. Persist
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifact := ml.NewArtifact(nw, data.TileSize)
	artifact.TestLoss, artifact.TestAccuracy = report.TestLoss, report.TestAccuracy
	if err := ml.SaveFile(cfg.ModelPath, artifact); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	report.RunID = artifact.RunID
	report.Elapsed = time.Since(start)
	return report, nil
}

func configError(err error) error {
	if errors.Is(err, ml.ErrInvalidFit) || errors.Is(err, ml.ErrShapeMismatch) || errors.Is(err, ml.ErrArchitecture) {
		return fmt.Errorf("%w: %v", data.ErrConfiguration, err)
	}
	return err
}

func logHardware(cfg Config) {
	log.Printf("cpu=%q physical_cores=%d logical_cores=%d avx2=%t workers=%d batch=%d",
		cpuid.CPU.BrandName,
		cpuid.CPU.PhysicalCores,
		cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2),
		cfg.NumWorkers,
		cfg.BatchSize,
	)
}
