// Package pipeline turns an arbitrary raster image into a dice-face mosaic
// using a loaded classifier.
//
// A Pipeline owns an explicit model handle. Until a model has been installed
// with SetModel, LoadModel or LoadAsync the pipeline is not ready and every
// conversion fails with data.ErrResourceUnavailable before doing any work.
//
// Each conversion walks the states
//
//	Idle → Loading → Preprocessing → Gridding → Classifying → Reconstructing → Rendered → Idle
//
// and returns to Idle on every exit path. Overlapping conversions on one
// Pipeline are serialized; the model itself is never mutated after install.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/b0tShaman/dicify/data"
	"github.com/b0tShaman/dicify/ml"
)

// State is the phase of the conversion currently in flight.
type State int32

const (
	Idle State = iota
	Loading
	Preprocessing
	Gridding
	Classifying
	Reconstructing
	Rendered
)

var stateNames = [...]string{"idle", "loading", "preprocessing", "gridding", "classifying", "reconstructing", "rendered"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options control a single conversion.
type Options struct {
	Density     int          // Grid cells per side, >= 1
	Palette     data.Palette // Zero value renders black on white
	AutoPalette bool         // Take ink and paper from the input's dominant colours
}

// Result is a rendered mosaic together with the per-cell predictions.
type Result struct {
	Prediction data.GridPrediction
	Image      *image.Paletted
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTrace registers fn to observe every state transition, in order.
func WithTrace(fn func(State)) Option {
	return func(p *Pipeline) { p.trace = fn }
}

// WithDebugLog logs state transitions.
func WithDebugLog(enabled bool) Option {
	return func(p *Pipeline) { p.debug = enabled }
}

type Pipeline struct {
	mu    sync.Mutex // held for the duration of a conversion
	model atomic.Pointer[ml.NeuralNetwork]
	state atomic.Int32

	trace func(State)
	debug bool
}

// New returns a pipeline in the not-ready state.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready reports whether a model is installed.
func (p *Pipeline) Ready() bool {
	return p.model.Load() != nil
}

// State returns the phase of the conversion in flight, or Idle.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) enter(s State) {
	p.state.Store(int32(s))
	if p.debug {
		log.Printf("pipeline state=%s", s)
	}
	if p.trace != nil {
		p.trace(s)
	}
}

// SetModel installs nw after checking it has the dice classifier architecture.
func (p *Pipeline) SetModel(nw *ml.NeuralNetwork) error {
	if nw == nil {
		return fmt.Errorf("%w: nil model", data.ErrResourceUnavailable)
	}
	if err := nw.Matches(ml.DiceLayers(data.TileSize, data.NumClasses)...); err != nil {
		return fmt.Errorf("%w: %v", data.ErrResourceUnavailable, err)
	}
	p.model.Store(nw)
	return nil
}

// LoadModel reads a model artifact from path and installs it.
func (p *Pipeline) LoadModel(path string) error {
	artifact, err := ml.LoadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrResourceUnavailable, err)
	}
	if artifact.TileSize != 0 && artifact.TileSize != data.TileSize {
		return fmt.Errorf("%w: model was trained on %dpx tiles, want %d",
			data.ErrResourceUnavailable, artifact.TileSize, data.TileSize)
	}
	nw, err := artifact.Network()
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrResourceUnavailable, err)
	}
	if err := p.SetModel(nw); err != nil {
		return err
	}
	log.Printf("model loaded path=%s run_id=%s test_acc=%.2f%%", path, artifact.RunID, artifact.TestAccuracy*100)
	return nil
}

// LoadAsync loads the model in the background. The returned channel yields
// exactly one value, nil on success, and is then closed. Conversions started
// before it completes fail with data.ErrResourceUnavailable.
func (p *Pipeline) LoadAsync(ctx context.Context, path string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- p.LoadModel(path)
	}()
	return done
}

// Convert decodes an image from r and renders its mosaic. The image must be
// at least Density pixels wide and tall; a smaller image has grid cells of no
// pixels and fails with data.ErrConfiguration.
func (p *Pipeline) Convert(r io.Reader, opts Options) (*Result, error) {
	return p.run(opts, func() (image.Image, error) {
		return data.DecodeImage(r)
	})
}

// ConvertImage renders the mosaic of an already decoded image, with the same
// size rule as Convert.
func (p *Pipeline) ConvertImage(img image.Image, opts Options) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", data.ErrDecode)
	}
	return p.run(opts, func() (image.Image, error) { return img, nil })
}

func (p *Pipeline) run(opts Options, load func() (image.Image, error)) (*Result, error) {
	nw := p.model.Load()
	if nw == nil {
		return nil, fmt.Errorf("%w: no model loaded", data.ErrResourceUnavailable)
	}
	if opts.Density <= 0 {
		return nil, fmt.Errorf("%w: grid density must be a positive integer (got %d)", data.ErrConfiguration, opts.Density)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.enter(Idle)

	p.enter(Loading)
	img, err := load()
	if err != nil {
		return nil, err
	}

	p.enter(Preprocessing)
	mono := data.Monochrome(img)

	p.enter(Gridding)
	patches, err := data.Grid(mono, opts.Density, data.TileSize)
	if err != nil {
		return nil, err
	}

	p.enter(Classifying)
	labels, err := classify(nw, patches)
	if err != nil {
		return nil, err
	}
	pred := data.GridPrediction{Density: opts.Density, Labels: labels}

	p.enter(Reconstructing)
	pal := opts.Palette
	if opts.AutoPalette {
		pal = data.AutoPalette(img)
	}
	canvas, err := data.Reconstruct(pred, pal)
	if err != nil {
		return nil, err
	}

	p.enter(Rendered)
	return &Result{Prediction: pred, Image: canvas}, nil
}

// classify runs all patches through nw as one batch and keeps the most
// probable class per patch.
func classify(nw *ml.NeuralNetwork, patches []*image.Gray) ([]int, error) {
	batch, err := data.PatchMatrix(patches)
	if err != nil {
		return nil, err
	}
	probs, err := nw.Probabilities(batch)
	if err != nil {
		if errors.Is(err, ml.ErrShapeMismatch) {
			return nil, fmt.Errorf("%w: %v", data.ErrConfiguration, err)
		}
		return nil, err
	}
	labels := make([]int, probs.Rows())
	for i := range labels {
		labels[i] = ml.Argmax(probs.Row(i))
	}
	return labels, nil
}
