package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Residual returns U - Q(QᵗU), the part of u orthogonal to the span of b.
// An empty basis yields a copy of u. Neither argument is modified.
func Residual(b Basis, u *mat.Dense) (*mat.Dense, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil target", ErrShape)
	}
	r, _ := u.Dims()
	if r != b.rows {
		return nil, fmt.Errorf("%w: basis rows=%d target rows=%d", ErrShape, b.rows, r)
	}
	if b.q == nil {
		return mat.DenseCopyOf(u), nil
	}

	var coef mat.Dense
	coef.Mul(b.q.T(), u)
	var proj mat.Dense
	proj.Mul(b.q, &coef)

	var out mat.Dense
	out.Sub(u, &proj)
	return &out, nil
}

// OrthogonalizeAgainst builds a basis for x and returns the residual of u
// against it, along with the basis used.
func OrthogonalizeAgainst(x, u *mat.Dense, tol float64) (*mat.Dense, Basis, error) {
	b, err := OrthonormalBasis(x, tol)
	if err != nil {
		return nil, Basis{}, err
	}
	out, err := Residual(b, u)
	if err != nil {
		return nil, Basis{}, err
	}
	return out, b, nil
}
