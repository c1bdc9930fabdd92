// Package design builds structured design matrices, their smoothing
// penalties and the orthogonalization patterns of deep terms.
package design

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"gonum.org/v1/gonum/mat"

	"sddr/internal/dataset"
	"sddr/internal/linalg"
	"sddr/internal/penalty"
)

var (
	ErrSpec       = errors.New("invalid design specification")
	ErrOutOfRange = errors.New("value outside fitted range")
)

const (
	defaultDegree    = 3
	defaultDF        = 9
	defaultDiffOrder = 2
)

type TermKind int

const (
	Intercept TermKind = iota
	Linear
	Spline
)

func (k TermKind) String() string {
	switch k {
	case Intercept:
		return "intercept"
	case Linear:
		return "linear"
	case Spline:
		return "spline"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Term is a contiguous column slice [Start, End) of the design matrix.
type Term struct {
	Name     string
	Kind     TermKind
	Features []string
	Start    int
	End      int
}

func (t Term) Columns() []int {
	cols := make([]int, 0, t.End-t.Start)
	for j := t.Start; j < t.End; j++ {
		cols = append(cols, j)
	}
	return cols
}

type SplineSpec struct {
	Feature   string
	DF        int
	Degree    int
	DiffOrder int
	// Lambda is used directly when TargetDF is zero.
	Lambda   float64
	TargetDF float64
}

// Spec is the structured part of one parameter's formula.
type Spec struct {
	Intercept bool
	Linear    []string
	Splines   []SplineSpec
}

// Design is a fitted layout: term slices and the training ranges of spline
// features.
type Design struct {
	terms   []Term
	splines []SplineSpec
	width   int
	ranges  map[string][2]float64
	tol     float64
}

// Fit lays out the terms of spec and records spline ranges from frame.
func Fit(frame dataset.Frame, spec Spec) (*Design, error) {
	return FitWithRanges(frame, spec, nil)
}

// FitWithRanges is Fit with spline ranges taken from ranges when present,
// so a stored layout can be rebuilt against new data.
func FitWithRanges(frame dataset.Frame, spec Spec, ranges map[string][2]float64) (*Design, error) {
	d := &Design{ranges: make(map[string][2]float64), tol: linalg.DefaultTolerance}
	if spec.Intercept {
		d.add(Term{Name: "Intercept", Kind: Intercept}, 1)
	}
	for _, feature := range spec.Linear {
		if _, err := frame.Column(feature); err != nil {
			return nil, err
		}
		d.add(Term{Name: feature, Kind: Linear, Features: []string{feature}}, 1)
	}
	for _, s := range spec.Splines {
		s = withSplineDefaults(s)
		if s.DF <= s.DiffOrder {
			return nil, fmt.Errorf("%w: spline(%s) df=%d must exceed difference order %d", ErrSpec, s.Feature, s.DF, s.DiffOrder)
		}
		if _, err := frame.Column(s.Feature); err != nil {
			return nil, err
		}
		r, known := ranges[s.Feature]
		if !known {
			lo, hi, err := frame.Range(s.Feature)
			if err != nil {
				return nil, err
			}
			r = [2]float64{lo, hi}
		}
		if _, err := BSplineKnots(r[0], r[1], s.DF, s.Degree); err != nil {
			return nil, fmt.Errorf("spline(%s): %w", s.Feature, err)
		}
		d.ranges[s.Feature] = r
		d.splines = append(d.splines, s)
		d.add(Term{Name: "spline(" + s.Feature + ")", Kind: Spline, Features: []string{s.Feature}}, s.DF)
	}
	if d.width == 0 {
		return nil, fmt.Errorf("%w: no structured terms", ErrSpec)
	}
	return d, nil
}

func withSplineDefaults(s SplineSpec) SplineSpec {
	if s.DF == 0 {
		s.DF = defaultDF
	}
	if s.Degree == 0 {
		s.Degree = defaultDegree
	}
	if s.DiffOrder == 0 {
		s.DiffOrder = defaultDiffOrder
	}
	return s
}

func (d *Design) add(t Term, width int) {
	t.Start = d.width
	t.End = d.width + width
	d.terms = append(d.terms, t)
	d.width += width
}

func (d *Design) Width() int { return d.width }

// Ranges returns the fitted [min, max] of each spline feature.
func (d *Design) Ranges() map[string][2]float64 {
	return maps.Clone(d.ranges)
}

func (d *Design) Terms() []Term {
	out := make([]Term, len(d.terms))
	for i, t := range d.terms {
		t.Features = append([]string(nil), t.Features...)
		out[i] = t
	}
	return out
}

// Transform builds the design matrix for frame. Spline features outside the
// fitted range are clipped when clip is set and rejected otherwise. Spline
// columns are orthogonalized against the non-spline terms of their feature.
func (d *Design) Transform(frame dataset.Frame, clip bool) (*mat.Dense, error) {
	rows := frame.Len()
	if rows == 0 {
		return nil, dataset.ErrEmpty
	}
	x := mat.NewDense(rows, d.width, nil)
	splineIdx := 0
	for _, t := range d.terms {
		switch t.Kind {
		case Intercept:
			for i := 0; i < rows; i++ {
				x.Set(i, t.Start, 1)
			}
		case Linear:
			col, err := frame.Column(t.Features[0])
			if err != nil {
				return nil, err
			}
			x.SetCol(t.Start, col)
		case Spline:
			s := d.splines[splineIdx]
			splineIdx++
			col, err := frame.Column(s.Feature)
			if err != nil {
				return nil, err
			}
			r := d.ranges[s.Feature]
			for i, v := range col {
				if v >= r[0] && v <= r[1] {
					continue
				}
				if !clip {
					return nil, fmt.Errorf("%w: %s=%g outside [%g, %g]; enable clipping or refit", ErrOutOfRange, s.Feature, v, r[0], r[1])
				}
				col[i] = math.Min(math.Max(v, r[0]), r[1])
			}
			basis, err := BSplineBasis(col, r[0], r[1], s.DF, s.Degree)
			if err != nil {
				return nil, err
			}
			x.Slice(0, rows, t.Start, t.End).(*mat.Dense).Copy(basis)
		}
	}
	if err := OrthogonalizeSplines(x, d.terms, d.tol); err != nil {
		return nil, err
	}
	return x, nil
}

// Penalty assembles the block-diagonal smoothing matrix for x, which must be
// a matrix produced by Transform. Each spline block is λ·DᵀD, with λ chosen
// from TargetDF when it is set.
func (d *Design) Penalty(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != d.width {
		return nil, fmt.Errorf("%w: design has %d columns, matrix has %d", ErrSpec, d.width, cols)
	}
	var blocks []penalty.Block
	splineIdx := 0
	for _, t := range d.terms {
		if t.Kind != Spline {
			continue
		}
		s := d.splines[splineIdx]
		splineIdx++
		p, err := penalty.Difference(s.DF, s.DiffOrder)
		if err != nil {
			return nil, fmt.Errorf("spline(%s): %w", s.Feature, err)
		}
		lambda := s.Lambda
		if s.TargetDF > 0 {
			block := mat.DenseCopyOf(x.Slice(0, rows, t.Start, t.End))
			lambda, err = penalty.LambdaForDF(block, p, s.TargetDF)
			if err != nil {
				return nil, fmt.Errorf("spline(%s): %w", s.Feature, err)
			}
		}
		p.Scale(lambda, p)
		blocks = append(blocks, penalty.Block{Offset: t.Start, P: p})
	}
	return penalty.BlockDiag(d.width, blocks)
}

// OrthogonalizeSplines replaces, in place, each spline block of x by its
// residual against the non-spline terms whose features it contains. The
// intercept has no features and so applies to every spline.
func OrthogonalizeSplines(x *mat.Dense, terms []Term, tol float64) error {
	rows, _ := x.Dims()
	for _, s := range terms {
		if s.Kind != Spline {
			continue
		}
		var groups [][]int
		for _, t := range terms {
			if t.Kind != Spline && subset(t.Features, s.Features) {
				groups = append(groups, t.Columns())
			}
		}
		if len(groups) == 0 {
			continue
		}
		xs, err := linalg.SelectColumns(x, groups)
		if err != nil {
			return err
		}
		block := x.Slice(0, rows, s.Start, s.End).(*mat.Dense)
		res, _, err := linalg.OrthogonalizeAgainst(xs, mat.DenseCopyOf(block), tol)
		if err != nil {
			return fmt.Errorf("orthogonalize %s: %w", s.Name, err)
		}
		block.Copy(res)
	}
	return nil
}

// OrthogonalizationPattern returns the column groups of every term whose
// features are all inputs of a deep model with netFeatures.
func OrthogonalizationPattern(netFeatures []string, terms []Term) [][]int {
	var groups [][]int
	for _, t := range terms {
		if subset(t.Features, netFeatures) {
			groups = append(groups, t.Columns())
		}
	}
	return groups
}

func subset(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
