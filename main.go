package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/b0tShaman/dicify/config"
	"github.com/b0tShaman/dicify/data"
	"github.com/b0tShaman/dicify/pipeline"
	"github.com/b0tShaman/dicify/trainer"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const (
	minDensity = 32
	maxDensity = 128
)

const usage = `dicify - render images as mosaics of dice faces

Usage:
  dicify corpus  [-config file] [-out corpus.json] [-samples N] [-noise P] [-seed S]
  dicify train   [-config file] [-corpus corpus.json] [-model model.gob] [-epochs N] ...
  dicify convert [-config file] [-model model.gob] [-density N] [-o out.png] input
  dicify faces   [-o faces.png]
  dicify version

Environment variables:
  DICIFY_LOG_LEVEL=debug    Log pipeline state transitions
`

// -------- MAIN -------- //
func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("dicify: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("%w: missing command", data.ErrConfiguration)
	}

	switch args[0] {
	case "corpus":
		return runCorpus(args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "convert":
		return runConvert(ctx, args[1:])
	case "faces":
		return runFaces(args[1:])
	case "version", "--version":
		fmt.Fprintf(stdout, "dicify %s (commit %s, %s)\n", Version, GitCommit, runtime.Version())
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", data.ErrConfiguration, args[0])
	}
}

// loadConfig reads the optional YAML file, then applies CLI overrides.
func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seededRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ------- SUBCOMMANDS ------- //
func runCorpus(args []string) error {
	fs := flag.NewFlagSet("corpus", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	out := fs.String("out", "", "Corpus JSON output path")
	samples := fs.Int("samples", 0, "Samples per class")
	noise := fs.Float64("noise", 0, "Pixel flip probability")
	seed := fs.Uint64("seed", 0, "PRNG seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, config.Overrides{
		CorpusPath:      *out,
		SamplesPerClass: *samples,
		Noise:           *noise,
		Seed:            *seed,
	})
	if err != nil {
		return err
	}

	corpus, err := data.Synthesize(seededRand(cfg.Seed), cfg.SamplesPerClass, cfg.Noise)
	if err != nil {
		return err
	}
	if err := data.SaveCorpus(cfg.CorpusPath, corpus); err != nil {
		return err
	}
	log.Printf("corpus written path=%s classes=%d samples=%d", cfg.CorpusPath, data.NumClasses, corpus.Size())
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	G := runtime.GOMAXPROCS(0)

	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	corpusPath := fs.String("corpus", "", "Corpus JSON path")
	modelPath := fs.String("model", "", "Model artifact output path")
	epochs := fs.Int("epochs", 0, "Training epochs")
	batchSize := fs.Int("batch-size", 0, "Mini-batch size")
	numWorkers := fs.Int("num-workers", 0, fmt.Sprintf("Data-parallel workers (e.g. %d)", G))
	lr := fs.Float64("lr", 0, "Learning rate")
	optimizer := fs.String("optimizer", "", "adam, momentum or sgd")
	seed := fs.Uint64("seed", 0, "PRNG seed (0 = random)")
	logEvery := fs.Int("log-every", 0, "Log every N epochs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, config.Overrides{
		CorpusPath:   *corpusPath,
		ModelPath:    *modelPath,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		NumWorkers:   *numWorkers,
		LearningRate: *lr,
		Optimizer:    *optimizer,
		Seed:         *seed,
		LogEvery:     *logEvery,
	})
	if err != nil {
		return err
	}

	report, err := trainer.Run(ctx, trainer.Config{
		CorpusPath:      cfg.CorpusPath,
		ModelPath:       cfg.ModelPath,
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		NumWorkers:      cfg.NumWorkers,
		LearningRate:    cfg.LearningRate,
		ValidationSplit: cfg.ValidationSplit,
		TestSplit:       cfg.TestSplit,
		NoHoldout:       cfg.TestSplit == 0 && cfg.ValidationSplit == 0,
		Optimizer:       cfg.Optimizer,
		Seed:            cfg.Seed,
		LogEvery:        cfg.LogEvery,
	})
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	log.Printf("training done run_id=%s train=%d test=%d test_acc=%.2f%% elapsed=%v",
		report.RunID, report.TrainSamples, report.TestSamples, report.TestAccuracy*100, report.Elapsed)
	return nil
}

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	modelPath := fs.String("model", "", "Model artifact path")
	density := fs.Int("density", 0, fmt.Sprintf("Grid cells per side (%d-%d)", minDensity, maxDensity))
	force := fs.Bool("force", false, "Allow densities outside the usual range")
	out := fs.String("o", "dice.png", "Output PNG path")
	ink := fs.String("ink", "", "Pip colour as #rrggbb")
	paper := fs.String("paper", "", "Face colour as #rrggbb")
	palette := fs.String("palette", "", "Set to auto to take colours from the input")
	verbose := fs.Bool("v", false, "Log pipeline state transitions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: convert takes exactly one input image", data.ErrConfiguration)
	}
	if *palette != "" && *palette != "auto" {
		return fmt.Errorf("%w: unknown palette %q", data.ErrConfiguration, *palette)
	}

	cfg, err := loadConfig(*cfgPath, config.Overrides{
		ModelPath:   *modelPath,
		Density:     *density,
		Ink:         *ink,
		Paper:       *paper,
		AutoPalette: *palette == "auto",
	})
	if err != nil {
		return err
	}
	if !*force && (cfg.Density < minDensity || cfg.Density > maxDensity) {
		return fmt.Errorf("%w: density %d outside %d-%d (use -force)", data.ErrConfiguration, cfg.Density, minDensity, maxDensity)
	}
	pal, err := cfg.Palette()
	if err != nil {
		return err
	}

	debug := *verbose || os.Getenv("DICIFY_LOG_LEVEL") == "debug"
	p := pipeline.New(pipeline.WithDebugLog(debug))
	if err := <-p.LoadAsync(ctx, cfg.ModelPath); err != nil {
		return err
	}

	img, err := data.LoadImage(fs.Arg(0))
	if err != nil {
		return err
	}

	res, err := p.ConvertImage(img, pipeline.Options{Density: cfg.Density, Palette: pal, AutoPalette: cfg.AutoPalette})
	if err != nil {
		return err
	}
	if err := data.SavePNG(*out, res.Image); err != nil {
		return err
	}
	log.Printf("mosaic written path=%s density=%d size=%dx%d histogram=%v",
		*out, cfg.Density, res.Image.Bounds().Dx(), res.Image.Bounds().Dy(), res.Prediction.Histogram())
	return nil
}

func runFaces(args []string) error {
	fs := flag.NewFlagSet("faces", flag.ContinueOnError)
	out := fs.String("o", "faces.png", "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := data.SavePNG(*out, data.FaceStrip()); err != nil {
		return err
	}
	log.Printf("faces written path=%s", *out)
	return nil
}
