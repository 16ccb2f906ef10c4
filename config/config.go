package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/b0tShaman/dicify/data"
	"github.com/b0tShaman/dicify/ml"
	"gopkg.in/yaml.v3"
)

// Config captures the knobs for corpus generation, training and conversion.
type Config struct {
	CorpusPath      string  `yaml:"corpus_path"`
	ModelPath       string  `yaml:"model_path"`
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	ValidationSplit float64 `yaml:"validation_split"`
	TestSplit       float64 `yaml:"test_split"`
	NumWorkers      int     `yaml:"num_workers"`
	Optimizer       string  `yaml:"optimizer"`
	Seed            uint64  `yaml:"seed"`
	LogEvery        int     `yaml:"log_every"`

	SamplesPerClass int     `yaml:"samples_per_class"`
	Noise           float64 `yaml:"noise"`

	Density     int    `yaml:"density"`
	Ink         string `yaml:"ink"`
	Paper       string `yaml:"paper"`
	AutoPalette bool   `yaml:"auto_palette"`
}

// Overrides captures CLI supplied values. Zero values leave the config untouched.
type Overrides struct {
	CorpusPath      string
	ModelPath       string
	Epochs          int
	BatchSize       int
	LearningRate    float64
	NumWorkers      int
	Optimizer       string
	Seed            uint64
	LogEvery        int
	SamplesPerClass int
	Noise           float64
	Density         int
	Ink             string
	Paper           string
	AutoPalette     bool
}

// Default mirrors the reference training run: 20 epochs of Adam at 0.005,
// a 10% validation tail and a 20% test split.
func Default() *Config {
	return &Config{
		CorpusPath:      "assets/corpus.json",
		ModelPath:       "assets/model.gob",
		Epochs:          20,
		BatchSize:       32,
		LearningRate:    0.005,
		ValidationSplit: 0.1,
		TestSplit:       0.2,
		NumWorkers:      4,
		Optimizer:       string(ml.OptAdam),
		LogEvery:        1,
		SamplesPerClass: 200,
		Noise:           0.03,
		Density:         64,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open config: %v", data.ErrConfiguration, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %v", data.ErrConfiguration, err)
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.CorpusPath != "" {
		c.CorpusPath = o.CorpusPath
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.SamplesPerClass > 0 {
		c.SamplesPerClass = o.SamplesPerClass
	}
	if o.Noise > 0 {
		c.Noise = o.Noise
	}
	if o.Density > 0 {
		c.Density = o.Density
	}
	if o.Ink != "" {
		c.Ink = o.Ink
	}
	if o.Paper != "" {
		c.Paper = o.Paper
	}
	if o.AutoPalette {
		c.AutoPalette = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", data.ErrConfiguration)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be > 0 (got %d)", data.ErrConfiguration, c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0 (got %d)", data.ErrConfiguration, c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("%w: num_workers must be > 0 (got %d)", data.ErrConfiguration, c.NumWorkers)
	}
	if c.BatchSize%c.NumWorkers != 0 {
		return fmt.Errorf("%w: batch_size %d must be divisible by num_workers %d", data.ErrConfiguration, c.BatchSize, c.NumWorkers)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be > 0 (got %g)", data.ErrConfiguration, c.LearningRate)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return fmt.Errorf("%w: validation_split must be in [0, 1) (got %g)", data.ErrConfiguration, c.ValidationSplit)
	}
	if c.TestSplit < 0 || c.TestSplit >= 1 {
		return fmt.Errorf("%w: test_split must be in [0, 1) (got %g)", data.ErrConfiguration, c.TestSplit)
	}
	if _, err := ml.ParseOptimizer(c.Optimizer); err != nil {
		return fmt.Errorf("%w: %v", data.ErrConfiguration, err)
	}
	if c.SamplesPerClass <= 0 {
		return fmt.Errorf("%w: samples_per_class must be > 0 (got %d)", data.ErrConfiguration, c.SamplesPerClass)
	}
	if c.Noise < 0 || c.Noise >= 0.5 {
		return fmt.Errorf("%w: noise must be in [0, 0.5) (got %g)", data.ErrConfiguration, c.Noise)
	}
	if c.Density <= 0 {
		return fmt.Errorf("%w: density must be > 0 (got %d)", data.ErrConfiguration, c.Density)
	}
	if _, err := c.Palette(); err != nil {
		return err
	}
	if c.LogEvery < 0 {
		c.LogEvery = 0
	}
	return nil
}

// Palette resolves the ink and paper colours.
func (c *Config) Palette() (data.Palette, error) {
	return data.ParsePalette(c.Ink, c.Paper)
}
