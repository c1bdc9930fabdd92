package design

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BSplineKnots returns a clamped knot vector over [lo, hi] with uniformly
// spaced interior knots.
func BSplineKnots(lo, hi float64, df, degree int) ([]float64, error) {
	if degree < 0 {
		return nil, fmt.Errorf("%w: spline degree must be >= 0", ErrSpec)
	}
	inner := df - degree
	if inner < 0 {
		return nil, fmt.Errorf("%w: spline df=%d is below degree %d", ErrSpec, df, degree)
	}
	if !(hi > lo) {
		return nil, fmt.Errorf("%w: spline range [%g, %g] is empty", ErrSpec, lo, hi)
	}
	knots := make([]float64, 0, 2*(degree+1)+inner)
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	for i := 1; i <= inner; i++ {
		knots = append(knots, lo+(hi-lo)*float64(i)/float64(inner+1))
	}
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}
	return knots, nil
}

// bsplineRow evaluates every basis function of the knot vector at x using
// the Cox-de Boor recursion.
func bsplineRow(x float64, knots []float64, degree int) []float64 {
	n := len(knots) - degree - 1
	b := make([]float64, len(knots)-1)
	last := knots[len(knots)-1]
	for i := 0; i < len(knots)-1; i++ {
		if knots[i] <= x && x < knots[i+1] {
			b[i] = 1
		}
	}
	if x == last {
		for i := len(knots) - 2; i >= 0; i-- {
			if knots[i] < knots[i+1] {
				b[i] = 1
				break
			}
		}
	}
	for d := 1; d <= degree; d++ {
		for i := 0; i < len(knots)-1-d; i++ {
			var left, right float64
			if den := knots[i+d] - knots[i]; den > 0 {
				left = (x - knots[i]) / den * b[i]
			}
			if den := knots[i+d+1] - knots[i+1]; den > 0 {
				right = (knots[i+d+1] - x) / den * b[i+1]
			}
			b[i] = left + right
		}
	}
	return b[:n]
}

// BSplineBasis evaluates a B-spline basis with df columns. The first basis
// function is dropped so the basis does not contain the constant.
func BSplineBasis(x []float64, lo, hi float64, df, degree int) (*mat.Dense, error) {
	if df < 1 {
		return nil, fmt.Errorf("%w: spline df must be >= 1", ErrSpec)
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrSpec)
	}
	knots, err := BSplineKnots(lo, hi, df, degree)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(x), df, nil)
	for i, v := range x {
		out.SetRow(i, bsplineRow(v, knots, degree)[1:])
	}
	return out, nil
}
