package trainer

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/b0tShaman/dicify/data"
	"github.com/b0tShaman/dicify/pipeline"
)

func synthCorpus(t *testing.T, perClass int) *data.Corpus {
	t.Helper()
	c, err := data.Synthesize(rand.New(rand.NewPCG(3, 4)), perClass, 0.02)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	return c
}

func testConfig(t *testing.T, c *data.Corpus) Config {
	return Config{
		Corpus:          c,
		ModelPath:       filepath.Join(t.TempDir(), "model.gob"),
		Epochs:          30,
		BatchSize:       16,
		NumWorkers:      4,
		LearningRate:    0.005,
		ValidationSplit: 0.1,
		TestSplit:       0.2,
		Optimizer:       "adam",
		Seed:            99,
	}
}

func TestRunProducesUsableModel(t *testing.T) {
	cfg := testConfig(t, synthCorpus(t, 40))
	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TrainSamples+report.TestSamples != 40*data.NumClasses {
		t.Fatalf("samples lost: %+v", report)
	}
	if report.TestSamples != 72 {
		t.Fatalf("expected a 20%% test split of 72, got %d", report.TestSamples)
	}
	if len(report.History.Epochs) != cfg.Epochs {
		t.Fatalf("expected %d epochs, got %d", cfg.Epochs, len(report.History.Epochs))
	}
	if !report.History.Last().HasValidation {
		t.Fatal("expected per-epoch validation")
	}
	if report.TestAccuracy < 0.3 {
		t.Fatalf("model did not learn: test accuracy %.2f", report.TestAccuracy)
	}
	if report.RunID == "" {
		t.Fatal("expected a run id")
	}

	p := pipeline.New()
	if err := p.LoadModel(cfg.ModelPath); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	blank := image.NewRGBA(image.Rect(0, 0, 640, 640))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	res, err := p.ConvertImage(blank, pipeline.Options{Density: 64})
	if err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	want := res.Prediction.Labels[0]
	for i, l := range res.Prediction.Labels {
		if l != want {
			t.Fatalf("cell %d labelled %d, blank cells should all be %d", i, l, want)
		}
	}
	if b := res.Image.Bounds(); b.Dx() != 64*data.TileSize {
		t.Fatalf("unexpected mosaic size %v", b)
	}
}

func TestRunDefaultsHoldOutTestAndValidation(t *testing.T) {
	c := synthCorpus(t, 20)
	report, err := Run(context.Background(), Config{
		Corpus:    c,
		ModelPath: filepath.Join(t.TempDir(), "model.gob"),
		Seed:      1,
		Epochs:    1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	n := c.Size()
	wantTest := int(math.Round(0.2 * float64(n)))
	if report.TestSamples != wantTest || report.TrainSamples != n-wantTest {
		t.Fatalf("expected %d/%d train/test, got %d/%d", n-wantTest, wantTest, report.TrainSamples, report.TestSamples)
	}
	wantVal := report.TrainSamples - int(float64(report.TrainSamples)*0.9)
	if report.History.ValidateSamples != wantVal || !report.History.Last().HasValidation {
		t.Fatalf("expected %d validation samples, got %d", wantVal, report.History.ValidateSamples)
	}
	if report.TestLoss == 0 {
		t.Fatal("expected a test evaluation")
	}
}

func TestRunNoHoldout(t *testing.T) {
	c := synthCorpus(t, 10)
	report, err := Run(context.Background(), Config{
		Corpus:    c,
		ModelPath: filepath.Join(t.TempDir(), "model.gob"),
		Seed:      1,
		Epochs:    1,
		NoHoldout: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TestSamples != 0 || report.History.ValidateSamples != 0 || report.TrainSamples != c.Size() {
		t.Fatalf("expected every sample in training, got %+v", report)
	}
}

func TestRunMinimalCorpus(t *testing.T) {
	cfg := testConfig(t, synthCorpus(t, 10))
	cfg.Epochs = 3
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		t.Fatalf("model not written: %v", err)
	}
}

func TestRunIsReproducible(t *testing.T) {
	c := synthCorpus(t, 12)
	a := testConfig(t, c)
	a.Epochs = 4
	b := a
	b.ModelPath = filepath.Join(t.TempDir(), "other.gob")

	ra, err := Run(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if ra.TestLoss != rb.TestLoss || ra.History.Last().Loss != rb.History.Last().Loss {
		t.Fatalf("same seed gave different runs: %v vs %v", ra.TestLoss, rb.TestLoss)
	}
}

func TestRunRejectsIncompleteCorpus(t *testing.T) {
	c := synthCorpus(t, 10)
	c.Pools[4] = nil
	cfg := testConfig(t, c)
	if _, err := Run(context.Background(), cfg); !errors.Is(err, data.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := os.Stat(cfg.ModelPath); !os.IsNotExist(err) {
		t.Fatal("no model should be written on failure")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"optimizer":   func(c *Config) { c.Optimizer = "rmsprop" },
		"workers":     func(c *Config) { c.NumWorkers = 3 },
		"model path":  func(c *Config) { c.ModelPath = "" },
		"test split":  func(c *Config) { c.TestSplit = 1.2 },
		"tiny corpus": func(c *Config) { c.BatchSize = 512 },
	}
	for name, mutate := range cases {
		cfg := testConfig(t, synthCorpus(t, 10))
		mutate(&cfg)
		if _, err := Run(context.Background(), cfg); !errors.Is(err, data.ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestRunMissingCorpusFile(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.CorpusPath = filepath.Join(t.TempDir(), "absent.json")
	if _, err := Run(context.Background(), cfg); !errors.Is(err, data.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig(t, synthCorpus(t, 10))
	if _, err := Run(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(cfg.ModelPath); !os.IsNotExist(err) {
		t.Fatal("no model should be written when cancelled")
	}
}
