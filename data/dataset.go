package data

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/b0tShaman/dicify/ml"
)

// LabeledPatch pairs one flattened patch with its pip count.
type LabeledPatch struct {
	Pixels []float64
	Label  int
}

// Patches concatenates the pools in class order, labelling each sample with
// the index of the pool it came from.
func (c *Corpus) Patches() []LabeledPatch {
	out := make([]LabeledPatch, 0, c.Size())
	for label, pool := range c.Pools {
		for _, sample := range pool {
			out = append(out, LabeledPatch{Pixels: sample, Label: label})
		}
	}
	return out
}

// Shuffle permutes patches in place. Pixels and label travel together as one
// record, so pairing can never desynchronise.
func Shuffle(rng *rand.Rand, patches []LabeledPatch) {
	rng.Shuffle(len(patches), func(i, j int) {
		patches[i], patches[j] = patches[j], patches[i]
	})
}

// Split cuts patches into a leading train slice and a trailing test slice of
// round(len*testFraction) records. Both slices alias patches.
func Split(patches []LabeledPatch, testFraction float64) (train, test []LabeledPatch, err error) {
	if testFraction < 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("%w: test split must be in [0, 1) (got %g)", ErrConfiguration, testFraction)
	}
	testCount := int(math.Round(float64(len(patches)) * testFraction))
	trainCount := len(patches) - testCount
	return patches[:trainCount:trainCount], patches[trainCount:], nil
}

// Tensors stacks patches into an input matrix and a one-hot target matrix.
func Tensors(patches []LabeledPatch) (X, Y *ml.Matrix, err error) {
	if len(patches) == 0 {
		return nil, nil, fmt.Errorf("%w: no patches", ErrConfiguration)
	}
	features := TileSize * TileSize
	flat := make([]float64, 0, len(patches)*features)
	labels := make([]int, len(patches))
	for i, p := range patches {
		if len(p.Pixels) != features {
			return nil, nil, fmt.Errorf("%w: patch %d has %d pixels, want %d", ErrConfiguration, i, len(p.Pixels), features)
		}
		flat = append(flat, p.Pixels...)
		labels[i] = p.Label
	}
	Y, err = OneHot(labels, NumClasses)
	if err != nil {
		return nil, nil, err
	}
	return ml.NewMatrixFromSlice(len(patches), features, flat), Y, nil
}

// OneHot encodes labels as rows with a single 1 at the label index.
func OneHot(labels []int, classes int) (*ml.Matrix, error) {
	if len(labels) == 0 || classes <= 0 {
		return nil, fmt.Errorf("%w: nothing to encode", ErrConfiguration)
	}
	m := ml.NewMatrix(len(labels), classes)
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("%w: label %d outside 0..%d", ErrConfiguration, l, classes-1)
		}
		m.Row(i)[l] = 1
	}
	return m, nil
}
