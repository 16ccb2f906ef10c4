package ml

import (
	"fmt"
	"math"
)

const (
	ActLinear ActivationType = iota
	ActRelu
	ActSigmoid
	ActSoftmax
)

const (
	InitHe InitType = iota
	InitGlorot
)

var activationMap = map[string]ActivationType{
	"linear":  ActLinear,
	"sigmoid": ActSigmoid,
	"relu":    ActRelu,
	"softmax": ActSoftmax,
}

// -------- TYPE DEFINITIONS -------- //
type ActivationType int
type InitType int
type LayerOption func(*LayerConfig)

func (a ActivationType) String() string {
	if name, ok := activationName(a); ok {
		return name
	}
	return fmt.Sprintf("activation(%d)", int(a))
}

// LayerConfig holds the blueprint for a layer
type LayerConfig struct {
	Neurons    int
	IsInput    bool
	Activation ActivationType
	Init       InitType
}

type LayerState struct {
	mW, vW *Matrix
	mB, vB *Matrix
}

type Layer struct {
	Weights *Matrix
	Biases  *Matrix

	// Forward State
	Z *Matrix
	A *Matrix

	// Backward State
	dZ      *Matrix
	ActType ActivationType
}

// GradientSet holds the calculated gradients for one layer
type GradientSet struct {
	dW *Matrix
	db *Matrix
}

// ------- LAYER CONFIG HELPERS ------- //
// Input defines the entry point dimensions
func Input(size int) LayerConfig {
	return LayerConfig{
		Neurons:    size,
		IsInput:    true,
		Activation: ActLinear,
	}
}

// Dense defines a fully connected layer.
func Dense(size int, opts ...LayerOption) LayerConfig {
	d := LayerConfig{
		Neurons:    size,
		IsInput:    false,
		Activation: ActRelu, // Default for hidden layers
		Init:       InitHe,
	}

	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Activation selects the layer activation by name. Softmax layers switch to
// Glorot initialisation unless Initializer overrides it afterwards.
func Activation(activation string) LayerOption {
	return func(lc *LayerConfig) {
		act, exists := activationMap[activation]
		if !exists {
			panic("Unknown activation: " + activation)
		}
		lc.Activation = act
		if act == ActSoftmax || act == ActSigmoid {
			lc.Init = InitGlorot
		}
	}
}

func Initializer(init InitType) LayerOption {
	return func(lc *LayerConfig) {
		lc.Init = init
	}
}

// SoftmaxRow applies softmax to each row of the matrix.
func SoftmaxRow(m *Matrix) {
	for i := 0; i < m.rows; i++ {
		maxVal := -math.MaxFloat64
		for j := 0; j < m.cols; j++ {
			if m.data[i*m.cols+j] > maxVal {
				maxVal = m.data[i*m.cols+j]
			}
		}
		sum := 0.0
		for j := 0; j < m.cols; j++ {
			val := math.Exp(m.data[i*m.cols+j] - maxVal)
			m.data[i*m.cols+j] = val
			sum += val
		}
		for j := 0; j < m.cols; j++ {
			m.data[i*m.cols+j] /= sum
		}
	}
}

// Argmax returns the index of the largest value. Ties go to the lowest index.
func Argmax(probs []float64) int {
	maxProb := math.Inf(-1)
	maxIdx := 0
	for i, p := range probs {
		if p > maxProb {
			maxProb = p
			maxIdx = i
		}
	}
	return maxIdx
}

// Flatten joins rows of equal width into one row-major slice.
func Flatten(input [][]float64) []float64 {
	if len(input) == 0 {
		return nil
	}
	rows, cols := len(input), len(input[0])
	flat := make([]float64, rows*cols)
	for i, row := range input {
		copy(flat[i*cols:], row)
	}
	return flat
}
