package data

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/b0tShaman/dicify/ml"
)

// Corpus is the training material: one ordered sample pool per pip count.
// Each sample is a flattened TileSize x TileSize patch of intensities in [0,1].
type Corpus struct {
	Pools [NumClasses][][]float64
}

// Validate checks that every class has a non-empty pool of correctly sized samples.
func (c *Corpus) Validate() error {
	for label, pool := range c.Pools {
		if len(pool) == 0 {
			return fmt.Errorf("%w: corpus class %d has no samples", ErrConfiguration, label)
		}
		for i, sample := range pool {
			if len(sample) != TileSize*TileSize {
				return fmt.Errorf("%w: corpus class %d sample %d has %d pixels, want %d",
					ErrConfiguration, label, i, len(sample), TileSize*TileSize)
			}
		}
	}
	return nil
}

// Size is the total number of samples across all pools.
func (c *Corpus) Size() int {
	n := 0
	for _, pool := range c.Pools {
		n += len(pool)
	}
	return n
}

// ReadCorpus decodes the corpus JSON: an object keyed "0".."8" whose values
// are arrays of samples. A sample may be flat or a nested rows-of-pixels array.
func ReadCorpus(r io.Reader) (*Corpus, error) {
	var raw map[string][]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: corpus: %v", ErrConfiguration, err)
	}

	c := &Corpus{}
	for key, samples := range raw {
		label, err := strconv.Atoi(key)
		if err != nil || label < 0 || label >= NumClasses {
			return nil, fmt.Errorf("%w: corpus key %q is not a class in 0..%d", ErrConfiguration, key, NumClasses-1)
		}
		pool := make([][]float64, 0, len(samples))
		for i, msg := range samples {
			sample, err := decodeSample(msg)
			if err != nil {
				return nil, fmt.Errorf("%w: corpus class %d sample %d: %v", ErrConfiguration, label, i, err)
			}
			pool = append(pool, sample)
		}
		c.Pools[label] = pool
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeSample(msg json.RawMessage) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(msg, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float64
	if err := json.Unmarshal(msg, &nested); err != nil {
		return nil, err
	}
	if len(nested) != TileSize {
		return nil, fmt.Errorf("nested sample has %d rows, want %d", len(nested), TileSize)
	}
	for i, row := range nested {
		if len(row) != TileSize {
			return nil, fmt.Errorf("nested sample row %d has %d values, want %d", i, len(row), TileSize)
		}
	}
	return ml.Flatten(nested), nil
}

// LoadCorpus reads a corpus file from disk.
func LoadCorpus(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open corpus: %v", ErrConfiguration, err)
	}
	defer f.Close()
	return ReadCorpus(f)
}

// WriteCorpus encodes c in the flat-sample JSON form.
func WriteCorpus(w io.Writer, c *Corpus) error {
	out := make(map[string][][]float64, NumClasses)
	for label, pool := range c.Pools {
		out[strconv.Itoa(label)] = pool
	}
	return json.NewEncoder(w).Encode(out)
}

// SaveCorpus writes c to path, creating missing parent directories.
func SaveCorpus(path string, c *Corpus) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteCorpus(w, c)
	})
}

// Synthesize builds a corpus from the reference faces. Every sample is its
// face shifted by up to one pixel in each axis (vacated pixels are white)
// with each pixel flipped with probability noise.
func Synthesize(rng *rand.Rand, perClass int, noise float64) (*Corpus, error) {
	if perClass <= 0 {
		return nil, fmt.Errorf("%w: samples per class must be > 0 (got %d)", ErrConfiguration, perClass)
	}
	if noise < 0 || noise >= 0.5 {
		return nil, fmt.Errorf("%w: noise must be in [0, 0.5) (got %g)", ErrConfiguration, noise)
	}

	c := &Corpus{}
	for label := 0; label < NumClasses; label++ {
		face, err := FacePixels(label)
		if err != nil {
			return nil, err
		}
		pool := make([][]float64, perClass)
		for n := range pool {
			dx, dy := rng.IntN(3)-1, rng.IntN(3)-1
			// The first sample of every pool is the clean face.
			if n == 0 {
				dx, dy = 0, 0
			}
			sample := make([]float64, TileSize*TileSize)
			for y := 0; y < TileSize; y++ {
				for x := 0; x < TileSize; x++ {
					sx, sy := x-dx, y-dy
					v := 1.0
					if sx >= 0 && sx < TileSize && sy >= 0 && sy < TileSize {
						v = face[sy*TileSize+sx]
					}
					if n > 0 && rng.Float64() < noise {
						v = 1 - v
					}
					sample[y*TileSize+x] = v
				}
			}
			pool[n] = sample
		}
		c.Pools[label] = pool
	}
	return c, nil
}
