// Package family maps raw per-parameter predictions onto valid distribution
// parameters and evaluates log-densities of observed targets.
package family

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrFamilyExists   = errors.New("family already registered")
	ErrFamilyNotFound = errors.New("family not found")
	ErrMissingParam   = errors.New("missing distribution parameter")
	ErrShape          = errors.New("parameter length mismatch")
	ErrDomain         = errors.New("parameter outside distribution domain")
)

// Distribution is a batch of independent univariate distributions, one per
// sample.
type Distribution interface {
	Len() int
	LogDensity(y []float64) ([]float64, error)
	Mean() []float64
}

// Family is the pluggable strategy selected once per network.
type Family interface {
	Name() string
	// Parameters lists the raw parameter names in constructor order.
	Parameters() []string
	// Transform maps raw predictions onto constructor arguments. The whole
	// map is passed so a family may couple parameters.
	Transform(raw map[string][]float64) (map[string][]float64, error)
	Instantiate(args map[string][]float64) (Distribution, error)
}

// LogProber is the per-sample distribution contract satisfied by the
// gonum distuv types.
type LogProber interface {
	LogProb(x float64) float64
	Mean() float64
}

// Parameter names one constructor argument and its link onto the valid
// domain.
type Parameter struct {
	Name string
	Link Link
	// Check reports whether a transformed value is admissible.
	Check func(v float64) bool
}

// Univariate is a Family whose samples are independent and whose arguments
// are scalars per sample.
type Univariate struct {
	name   string
	params []Parameter
	build  func(args []float64) LogProber
}

func NewUnivariate(name string, params []Parameter, build func(args []float64) LogProber) *Univariate {
	return &Univariate{name: name, params: params, build: build}
}

func (u *Univariate) Name() string { return u.name }

func (u *Univariate) Parameters() []string {
	names := make([]string, len(u.params))
	for i, p := range u.params {
		names[i] = p.Name
	}
	return names
}

func (u *Univariate) Transform(raw map[string][]float64) (map[string][]float64, error) {
	n, err := u.commonLength(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(u.params))
	for _, p := range u.params {
		src := raw[p.Name]
		dst := make([]float64, n)
		link := p.Link
		if link == nil {
			link = Identity
		}
		for i, v := range src {
			dst[i] = link(v)
		}
		out[p.Name] = dst
	}
	return out, nil
}

func (u *Univariate) Instantiate(args map[string][]float64) (Distribution, error) {
	n, err := u.commonLength(args)
	if err != nil {
		return nil, err
	}
	parts := make([]LogProber, n)
	row := make([]float64, len(u.params))
	for i := 0; i < n; i++ {
		for k, p := range u.params {
			v := args[p.Name][i]
			if math.IsNaN(v) || math.IsInf(v, 0) || (p.Check != nil && !p.Check(v)) {
				return nil, fmt.Errorf("%w: %s %s=%g at sample %d", ErrDomain, u.name, p.Name, v, i)
			}
			row[k] = v
		}
		parts[i] = u.build(row)
	}
	return &product{family: u.name, parts: parts}, nil
}

func (u *Univariate) commonLength(m map[string][]float64) (int, error) {
	n := -1
	for _, p := range u.params {
		v, ok := m[p.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %s requires %s", ErrMissingParam, u.name, p.Name)
		}
		if n < 0 {
			n = len(v)
			continue
		}
		if len(v) != n {
			return 0, fmt.Errorf("%w: %s has %d values, expected %d", ErrShape, p.Name, len(v), n)
		}
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

type product struct {
	family string
	parts  []LogProber
}

func (p *product) Len() int { return len(p.parts) }

func (p *product) LogDensity(y []float64) ([]float64, error) {
	if len(y) != len(p.parts) {
		return nil, fmt.Errorf("%w: %s distribution has %d samples, got %d targets", ErrShape, p.family, len(p.parts), len(y))
	}
	out := make([]float64, len(y))
	for i, d := range p.parts {
		out[i] = d.LogProb(y[i])
	}
	return out, nil
}

func (p *product) Mean() []float64 {
	out := make([]float64, len(p.parts))
	for i, d := range p.parts {
		out[i] = d.Mean()
	}
	return out
}
