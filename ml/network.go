package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShapeMismatch reports an input or target whose dimensions do not fit the network.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrArchitecture reports a network whose layers differ from the expected blueprint.
	ErrArchitecture = errors.New("architecture mismatch")
)

type NeuralNetwork struct {
	Layers   []*Layer
	InputDim int
	InputBuf *Matrix
}

// BuildNetwork validates the blueprint and initialises weights from rng.
func BuildNetwork(rng *rand.Rand, configs ...LayerConfig) (*NeuralNetwork, error) {
	if len(configs) < 2 {
		return nil, fmt.Errorf("%w: network must have at least Input and one Output layer", ErrArchitecture)
	}
	if !configs[0].IsInput {
		return nil, fmt.Errorf("%w: first layer must be Input()", ErrArchitecture)
	}
	if configs[0].Neurons <= 0 {
		return nil, fmt.Errorf("%w: input size must be > 0 (got %d)", ErrArchitecture, configs[0].Neurons)
	}

	nn := &NeuralNetwork{InputDim: configs[0].Neurons}
	prevOutputSize := configs[0].Neurons

	for i := 1; i < len(configs); i++ {
		cfg := configs[i]
		if cfg.IsInput {
			return nil, fmt.Errorf("%w: layer %d: Input() is only allowed first", ErrArchitecture, i)
		}
		if cfg.Neurons <= 0 {
			return nil, fmt.Errorf("%w: layer %d: neurons must be > 0 (got %d)", ErrArchitecture, i, cfg.Neurons)
		}

		layer := &Layer{
			Weights: NewMatrix(prevOutputSize, cfg.Neurons),
			Biases:  NewMatrix(1, cfg.Neurons),
			ActType: cfg.Activation,
		}

		switch cfg.Init {
		case InitGlorot:
			layer.Weights.RandomizeXavier(rng)
		default:
			layer.Weights.Randomize(rng)
		}

		nn.Layers = append(nn.Layers, layer)
		prevOutputSize = cfg.Neurons
	}

	if nn.Layers[len(nn.Layers)-1].ActType != ActSoftmax {
		return nil, fmt.Errorf("%w: only a softmax output layer is supported", ErrArchitecture)
	}

	return nn, nil
}

// -------- NEURAL NETWORK METHODS -------- //
func (nw *NeuralNetwork) InitializeBuffers(batchSize int) {
	nw.InputBuf = NewMatrix(batchSize, nw.InputDim)

	for _, layer := range nw.Layers {
		outputDim := layer.Weights.cols
		layer.Z = NewMatrix(batchSize, outputDim)
		layer.A = NewMatrix(batchSize, outputDim)
		layer.dZ = NewMatrix(batchSize, outputDim)
	}
}

// CloneStructure returns a network sharing weights with nw but owning no buffers.
func (nw *NeuralNetwork) CloneStructure() *NeuralNetwork {
	newNN := &NeuralNetwork{
		InputDim: nw.InputDim,
		Layers:   make([]*Layer, len(nw.Layers)),
	}
	for i, l := range nw.Layers {
		newNN.Layers[i] = &Layer{
			Weights: l.Weights,
			Biases:  l.Biases,
			ActType: l.ActType,
		}
	}
	return newNN
}

// OutputDim is the width of the final layer.
func (nw *NeuralNetwork) OutputDim() int {
	return nw.Layers[len(nw.Layers)-1].Weights.cols
}

// Output is the activation matrix of the last Forward call.
func (nw *NeuralNetwork) Output() *Matrix {
	return nw.Layers[len(nw.Layers)-1].A
}

// Forward runs input through the layers. Buffers must have been sized with
// InitializeBuffers(input.Rows()).
func (nw *NeuralNetwork) Forward(input *Matrix) {
	activation := input
	for _, layer := range nw.Layers {
		MatMul(activation.dense, layer.Weights.dense, layer.Z)
		layer.Z.AddVector(layer.Biases)
		copy(layer.A.data, layer.Z.data)

		switch layer.ActType {
		case ActSoftmax:
			SoftmaxRow(layer.A)
		case ActRelu:
			layer.A.ApplyRelu()
		case ActSigmoid:
			layer.A.ApplySigmoid()
		case ActLinear:
		default:
			panic("Unknown activation type")
		}
		activation = layer.A
	}
}

// Probabilities classifies every row of input in one batch. The forward pass
// runs on a private clone, so the buffers are released when the call returns
// and concurrent callers never share scratch memory.
func (nw *NeuralNetwork) Probabilities(input *Matrix) (*Matrix, error) {
	if input == nil || input.rows == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	if input.cols != nw.InputDim {
		return nil, fmt.Errorf("%w: expected %d input features, got %d", ErrShapeMismatch, nw.InputDim, input.cols)
	}

	worker := nw.CloneStructure()
	worker.InitializeBuffers(input.rows)
	worker.Forward(input)
	return worker.Output(), nil
}

// ComputeGradients backpropagates softmax cross-entropy against one-hot
// targets Y. Forward(input) must have run first.
func (nw *NeuralNetwork) ComputeGradients(input *Matrix, Y *Matrix, grads []GradientSet) (float64, float64) {
	lastLayerIdx := len(nw.Layers) - 1
	lastLayer := nw.Layers[lastLayerIdx]

	loss, acc := CrossEntropy(lastLayer.A, Y)

	scale := 1.0 / float64(input.rows)

	// 1. Output Error (Softmax + CrossEntropy): dZ = A - Y
	copy(lastLayer.dZ.data, lastLayer.A.data)
	floats.Sub(lastLayer.dZ.data, Y.data)

	// 2. Backprop Loop
	for i := lastLayerIdx; i >= 0; i-- {
		layer := nw.Layers[i]

		if i > 0 {
			MatMul(nw.Layers[i-1].A.dense.T(), layer.dZ.dense, grads[i].dW)
		} else {
			MatMul(input.dense.T(), layer.dZ.dense, grads[i].dW)
		}

		// Calc db
		grads[i].db.Reset()
		dZData := layer.dZ.data
		dbData := grads[i].db.data
		cols := layer.dZ.cols
		for r := 0; r < layer.dZ.rows; r++ {
			floats.Add(dbData, dZData[r*cols:(r+1)*cols])
		}

		floats.Scale(scale, grads[i].dW.data)
		floats.Scale(scale, grads[i].db.data)

		// --- CALC dZ_prev ---
		if i > 0 {
			prevLayer := nw.Layers[i-1]
			MatMul(layer.dZ.dense, layer.Weights.dense.T(), prevLayer.dZ)

			zData := prevLayer.Z.data
			dZPrevData := prevLayer.dZ.data
			for k := range dZPrevData {
				switch prevLayer.ActType {
				case ActRelu:
					if zData[k] <= 0 {
						dZPrevData[k] = 0
					}
				case ActSigmoid:
					a := prevLayer.A.data[k]
					dZPrevData[k] *= a * (1.0 - a)
				}
			}
		}
	}
	return loss, acc
}

// CrossEntropy returns mean categorical cross-entropy and top-1 accuracy of
// probability rows against one-hot targets.
func CrossEntropy(output, Y *Matrix) (float64, float64) {
	totalLoss := 0.0
	correctCount := 0
	epsilon := 1e-15

	for i := 0; i < output.rows; i++ {
		probs := output.Row(i)
		target := Y.Row(i)
		for j, t := range target {
			if t != 0 {
				totalLoss += -t * math.Log(probs[j]+epsilon)
			}
		}
		if Argmax(probs) == Argmax(target) {
			correctCount++
		}
	}
	return totalLoss / float64(output.rows), float64(correctCount) / float64(output.rows)
}

// Evaluate reports loss and accuracy of nw on X against one-hot targets Y.
func (nw *NeuralNetwork) Evaluate(X, Y *Matrix) (float64, float64, error) {
	if Y == nil || X == nil || X.rows != Y.rows {
		return 0, 0, fmt.Errorf("%w: inputs and targets differ in row count", ErrShapeMismatch)
	}
	if Y.cols != nw.OutputDim() {
		return 0, 0, fmt.Errorf("%w: expected %d target classes, got %d", ErrShapeMismatch, nw.OutputDim(), Y.cols)
	}
	probs, err := nw.Probabilities(X)
	if err != nil {
		return 0, 0, err
	}
	loss, acc := CrossEntropy(probs, Y)
	return loss, acc, nil
}

// Matches checks that nw has exactly the layer shapes and activations of the blueprint.
func (nw *NeuralNetwork) Matches(configs ...LayerConfig) error {
	if len(configs) == 0 || !configs[0].IsInput {
		return fmt.Errorf("%w: blueprint must start with Input()", ErrArchitecture)
	}
	if nw.InputDim != configs[0].Neurons {
		return fmt.Errorf("%w: expected input size %d, got %d", ErrArchitecture, configs[0].Neurons, nw.InputDim)
	}
	if len(nw.Layers) != len(configs)-1 {
		return fmt.Errorf("%w: expected %d layers, got %d", ErrArchitecture, len(configs)-1, len(nw.Layers))
	}

	prev := configs[0].Neurons
	for i, layer := range nw.Layers {
		cfg := configs[i+1]
		if layer.ActType != cfg.Activation {
			return fmt.Errorf("%w: layer %d: expected activation %v, got %v", ErrArchitecture, i, cfg.Activation, layer.ActType)
		}
		if layer.Weights.rows != prev || layer.Weights.cols != cfg.Neurons {
			return fmt.Errorf("%w: layer %d weights: expected [%d, %d], got [%d, %d]",
				ErrArchitecture, i, prev, cfg.Neurons, layer.Weights.rows, layer.Weights.cols)
		}
		if layer.Biases.rows != 1 || layer.Biases.cols != cfg.Neurons {
			return fmt.Errorf("%w: layer %d biases: expected [1, %d], got [%d, %d]",
				ErrArchitecture, i, cfg.Neurons, layer.Biases.rows, layer.Biases.cols)
		}
		prev = cfg.Neurons
	}
	return nil
}
