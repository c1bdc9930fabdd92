package submodel

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MLPConfig describes a dense feed-forward deep model. Hidden layers use
// Activation; the output layer is linear.
type MLPConfig struct {
	InputWidth  int
	Hidden      []int
	OutputWidth int
	Activation  string
	Seed        int64
}

type layer struct {
	weights *mat.Dense
	bias    []float64
	act     ActivationFunc
}

// MLP is a small multilayer perceptron usable as a deep effect.
type MLP struct {
	inputWidth int
	layers     []layer
}

func NewMLP(cfg MLPConfig) (*MLP, error) {
	if cfg.InputWidth <= 0 {
		return nil, fmt.Errorf("%w: mlp input width must be > 0", ErrInvalidModel)
	}
	if cfg.OutputWidth <= 0 {
		return nil, fmt.Errorf("%w: mlp output width must be > 0", ErrInvalidModel)
	}
	activation := cfg.Activation
	if activation == "" {
		activation = "relu"
	}
	hiddenAct, err := GetActivation(activation)
	if err != nil {
		return nil, err
	}
	identity, err := GetActivation("identity")
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sizes := append([]int{cfg.InputWidth}, cfg.Hidden...)
	sizes = append(sizes, cfg.OutputWidth)

	m := &MLP{inputWidth: cfg.InputWidth}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		if out <= 0 {
			return nil, fmt.Errorf("%w: layer %d width must be > 0", ErrInvalidModel, i)
		}
		bound := 1 / math.Sqrt(float64(in))
		w := make([]float64, in*out)
		for k := range w {
			w[k] = (2*rng.Float64() - 1) * bound
		}
		b := make([]float64, out)
		for k := range b {
			b[k] = (2*rng.Float64() - 1) * bound
		}
		act := hiddenAct
		if i == len(sizes)-1 {
			act = identity
		}
		m.layers = append(m.layers, layer{weights: mat.NewDense(in, out, w), bias: b, act: act})
	}
	return m, nil
}

func (m *MLP) InputWidth() int { return m.inputWidth }

func (m *MLP) OutputWidth() int {
	_, c := m.layers[len(m.layers)-1].weights.Dims()
	return c
}

func (m *MLP) Apply(x *mat.Dense) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != m.inputWidth {
		return nil, fmt.Errorf("%w: mlp expects %d input columns, got %d", ErrShape, m.inputWidth, c)
	}
	var h mat.Matrix = x
	for _, l := range m.layers {
		var z mat.Dense
		z.Mul(h, l.weights)
		bias, act := l.bias, l.act
		z.Apply(func(_, j int, v float64) float64 {
			return act(v + bias[j])
		}, &z)
		h = &z
	}
	return h.(*mat.Dense), nil
}
