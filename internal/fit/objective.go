// Package fit drives external optimization of a network's head weights
// against the penalized negative log-likelihood.
package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"sddr/internal/family"
	"sddr/internal/sddr"
)

var ErrNonFinite = errors.New("objective is not finite")

// infeasible reports whether err rejects a candidate point instead of
// failing the run: a non-finite objective or parameters outside the family's
// domain.
func infeasible(err error) bool {
	return errors.Is(err, ErrNonFinite) || errors.Is(err, family.ErrDomain)
}

// Objective is sum(LogLoss(y)) + Lambda·Regularization() for fixed inputs.
type Objective struct {
	Net     *sddr.Network
	Batches map[string]sddr.Batch
	Targets []float64
	Lambda  float64
}

// Evaluate runs one forward pass with the network's current weights.
func (o Objective) Evaluate() (float64, error) {
	if o.Net == nil {
		return 0, errors.New("network is required")
	}
	if _, err := o.Net.Forward(o.Batches); err != nil {
		return 0, err
	}
	loss, err := o.Net.LogLoss(o.Targets)
	if err != nil {
		return 0, err
	}
	total := floats.Sum(loss) + o.Lambda*o.Net.Regularization()
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return total, ErrNonFinite
	}
	return total, nil
}

// At loads theta into the network and evaluates it.
func (o Objective) At(theta []float64) (float64, error) {
	if err := Unflatten(o.Net, theta); err != nil {
		return 0, err
	}
	return o.Evaluate()
}

// Flatten concatenates structured then deep head weights of every parameter
// in sorted parameter order.
func Flatten(net *sddr.Network) []float64 {
	var out []float64
	for _, name := range net.ParamNames() {
		p, _ := net.Param(name)
		out = append(out, p.StructuredWeights()...)
		out = append(out, p.DeepWeights()...)
	}
	return out
}

// Unflatten is the inverse of Flatten.
func Unflatten(net *sddr.Network, theta []float64) error {
	off := 0
	for _, name := range net.ParamNames() {
		p, _ := net.Param(name)
		ns, nd := p.StructuredWidth(), p.DeepWidth()
		if off+ns+nd > len(theta) {
			return fmt.Errorf("%w: parameter vector has %d values, need more for %s", sddr.ErrConfig, len(theta), name)
		}
		if err := p.SetStructuredWeights(theta[off : off+ns]); err != nil {
			return err
		}
		off += ns
		if err := p.SetDeepWeights(theta[off : off+nd]); err != nil {
			return err
		}
		off += nd
	}
	if off != len(theta) {
		return fmt.Errorf("%w: parameter vector has %d values, network uses %d", sddr.ErrConfig, len(theta), off)
	}
	return nil
}

// Report summarizes one optimizer run.
type Report struct {
	Optimizer string    `json:"optimizer"`
	Steps     int       `json:"steps"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
	Converged bool      `json:"converged"`
	History   []float64 `json:"history"`
	Final     float64   `json:"final"`
}

// Optimizer updates the network in place and leaves it in the ready state
// with the best weights found.
type Optimizer interface {
	Name() string
	Minimize(ctx context.Context, obj Objective) (Report, error)
}
