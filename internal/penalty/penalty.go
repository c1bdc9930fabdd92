// Package penalty builds smoothing penalty matrices for structured weights.
package penalty

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape = errors.New("penalty shape mismatch")
	ErrDF    = errors.New("degrees of freedom out of reachable range")
)

const (
	minLogLambda = -8.0
	maxLogLambda = 12.0
	ridge        = 1e-10
)

// Difference returns DᵀD for the order-th difference operator D on k
// coefficients.
func Difference(k, order int) (*mat.Dense, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: difference order must be >= 1", ErrShape)
	}
	if k <= order {
		return nil, fmt.Errorf("%w: need more than %d coefficients, got %d", ErrShape, order, k)
	}
	// Rows of D are binomial coefficients with alternating sign.
	coef := make([]float64, order+1)
	for j := 0; j <= order; j++ {
		c := binomial(order, j)
		if (order-j)%2 == 1 {
			c = -c
		}
		coef[j] = c
	}
	rows := k - order
	d := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		for j, c := range coef {
			d.Set(i, i+j, c)
		}
	}
	var p mat.Dense
	p.Mul(d.T(), d)
	return &p, nil
}

// Block places P at Offset on the diagonal of a larger penalty.
type Block struct {
	Offset int
	P      *mat.Dense
}

// BlockDiag assembles a width×width penalty with zeros outside the blocks.
func BlockDiag(width int, blocks []Block) (*mat.Dense, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: width must be > 0", ErrShape)
	}
	out := mat.NewDense(width, width, nil)
	for i, b := range blocks {
		if b.P == nil {
			continue
		}
		r, c := b.P.Dims()
		if r != c {
			return nil, fmt.Errorf("%w: block %d is %dx%d", ErrShape, i, r, c)
		}
		if b.Offset < 0 || b.Offset+r > width {
			return nil, fmt.Errorf("%w: block %d at offset %d does not fit width %d", ErrShape, i, b.Offset, width)
		}
		dst := out.Slice(b.Offset, b.Offset+r, b.Offset, b.Offset+r).(*mat.Dense)
		dst.Add(dst, b.P)
	}
	return out, nil
}

// EffectiveDF returns trace(X (XᵀX + λP)⁻¹ Xᵀ).
func EffectiveDF(x, p *mat.Dense, lambda float64) (float64, error) {
	_, c := x.Dims()
	pr, pc := p.Dims()
	if pr != c || pc != c {
		return 0, fmt.Errorf("%w: penalty is %dx%d for %d columns", ErrShape, pr, pc, c)
	}
	var xtx mat.Dense
	xtx.Mul(x.T(), x)

	var a mat.Dense
	a.Scale(lambda, p)
	a.Add(&a, &xtx)
	for i := 0; i < c; i++ {
		a.Set(i, i, a.At(i, i)+ridge)
	}

	var s mat.Dense
	if err := s.Solve(&a, &xtx); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, err
		}
	}
	return mat.Trace(&s), nil
}

// LambdaForDF finds λ so that the penalized fit of x has df effective
// degrees of freedom. The search is a bisection over log10 λ.
func LambdaForDF(x, p *mat.Dense, df float64) (float64, error) {
	hiDF, err := EffectiveDF(x, p, math.Pow(10, minLogLambda))
	if err != nil {
		return 0, err
	}
	if df >= hiDF {
		return 0, nil
	}
	loDF, err := EffectiveDF(x, p, math.Pow(10, maxLogLambda))
	if err != nil {
		return 0, err
	}
	if df <= loDF {
		return 0, fmt.Errorf("%w: df=%g, minimum reachable is %g", ErrDF, df, loDF)
	}

	lo, hi := minLogLambda, maxLogLambda
	for i := 0; i < 100 && hi-lo > 1e-8; i++ {
		mid := (lo + hi) / 2
		got, err := EffectiveDF(x, p, math.Pow(10, mid))
		if err != nil {
			return 0, err
		}
		if got > df {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Pow(10, (lo+hi)/2), nil
}

func binomial(n, k int) float64 {
	out := 1.0
	for i := 1; i <= k; i++ {
		out = out * float64(n-k+i) / float64(i)
	}
	return out
}
