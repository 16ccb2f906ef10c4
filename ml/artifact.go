package ml

import (
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ArtifactVersion is bumped whenever the gob layout of Artifact changes.
const ArtifactVersion = 1

// LayerData is the persisted form of one dense layer.
type LayerData struct {
	Weights    *Matrix
	Biases     *Matrix
	Activation ActivationType
}

// Artifact is the self-describing model file: the layer shapes are recoverable
// from the weight matrices alone, so Network needs no external blueprint.
type Artifact struct {
	Version   int
	RunID     string
	CreatedAt time.Time
	InputDim  int
	TileSize  int
	Classes   int
	Layers    []LayerData

	TestLoss     float64
	TestAccuracy float64
}

// NewArtifact snapshots the weights of nw under a fresh run id.
func NewArtifact(nw *NeuralNetwork, tileSize int) *Artifact {
	a := &Artifact{
		Version:   ArtifactVersion,
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		InputDim:  nw.InputDim,
		TileSize:  tileSize,
		Classes:   nw.OutputDim(),
		Layers:    make([]LayerData, len(nw.Layers)),
	}
	for i, l := range nw.Layers {
		a.Layers[i] = LayerData{Weights: l.Weights, Biases: l.Biases, Activation: l.ActType}
	}
	return a
}

// Network rebuilds a ready-to-use network from the artifact, validating that
// consecutive layers chain.
func (a *Artifact) Network() (*NeuralNetwork, error) {
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: unsupported artifact version %d", ErrArchitecture, a.Version)
	}
	if len(a.Layers) == 0 {
		return nil, fmt.Errorf("%w: artifact has no layers", ErrArchitecture)
	}

	nw := &NeuralNetwork{InputDim: a.InputDim}
	prev := a.InputDim
	for i, ld := range a.Layers {
		if ld.Weights == nil || ld.Biases == nil {
			return nil, fmt.Errorf("%w: layer %d is missing parameters", ErrArchitecture, i)
		}
		if ld.Weights.rows != prev {
			return nil, fmt.Errorf("%w: layer %d expects %d inputs, previous layer yields %d",
				ErrArchitecture, i, ld.Weights.rows, prev)
		}
		if ld.Biases.rows != 1 || ld.Biases.cols != ld.Weights.cols {
			return nil, fmt.Errorf("%w: layer %d bias shape [%d, %d] does not match %d neurons",
				ErrArchitecture, i, ld.Biases.rows, ld.Biases.cols, ld.Weights.cols)
		}
		if _, ok := activationName(ld.Activation); !ok {
			return nil, fmt.Errorf("%w: layer %d has unknown activation %d", ErrArchitecture, i, int(ld.Activation))
		}
		nw.Layers = append(nw.Layers, &Layer{Weights: ld.Weights, Biases: ld.Biases, ActType: ld.Activation})
		prev = ld.Weights.cols
	}
	if nw.Layers[len(nw.Layers)-1].ActType != ActSoftmax {
		return nil, fmt.Errorf("%w: output layer must be softmax", ErrArchitecture)
	}
	if a.Classes != 0 && a.Classes != prev {
		return nil, fmt.Errorf("%w: artifact declares %d classes but output has %d", ErrArchitecture, a.Classes, prev)
	}
	return nw, nil
}

func activationName(act ActivationType) (string, bool) {
	for name, a := range activationMap {
		if a == act {
			return name, true
		}
	}
	return "", false
}

// Save writes the artifact as a gob stream.
func Save(w io.Writer, a *Artifact) error {
	return gob.NewEncoder(w).Encode(a)
}

// Load reads an artifact written by Save.
func Load(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode gob model: %w", err)
	}
	return &a, nil
}

// SaveFile writes the artifact next to path and renames it into place, so a
// crash never leaves a truncated model behind.
func SaveFile(path string, a *Artifact) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Save(tmp, a); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Printf("model saved path=%s run_id=%s", path, a.RunID)
	return nil
}

// LoadFile opens and decodes a model file.
func LoadFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
