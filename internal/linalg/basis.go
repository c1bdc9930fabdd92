// Package linalg holds the dense linear-algebra primitives used to keep deep
// effects orthogonal to the structured design.
package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the relative threshold below which a pivot or singular
// value is treated as zero when estimating numerical rank.
const DefaultTolerance = 1e-10

var (
	ErrShape        = errors.New("matrix shape mismatch")
	ErrColumnIndex  = errors.New("column index out of range")
	ErrEmptyGroup   = errors.New("column group is empty")
	ErrFactorFailed = errors.New("factorization failed")
)

// Basis is an orthonormal basis for the column space of a matrix. A Basis may
// hold zero columns, in which case it spans only the origin.
type Basis struct {
	q    *mat.Dense
	rows int
	// Deficient reports whether the source matrix had fewer independent
	// columns than it had columns.
	Deficient bool
}

// Rows returns the sample count the basis was built for.
func (b Basis) Rows() int { return b.rows }

// Rank returns the number of orthonormal columns.
func (b Basis) Rank() int {
	if b.q == nil {
		return 0
	}
	_, c := b.q.Dims()
	return c
}

// Q returns the orthonormal columns, or nil for an empty basis.
func (b Basis) Q() *mat.Dense { return b.q }

// EmptyBasis returns a basis with no columns for the given row count.
func EmptyBasis(rows int) Basis {
	return Basis{rows: rows, Deficient: true}
}

// OrthonormalBasis factors x and returns an orthonormal basis for its column
// space. Full column rank inputs go through a Householder QR. When QR reveals a
// (near) zero pivot, or x has more columns than rows, the basis is rebuilt
// from a thin SVD truncated to the numerical rank. Rank deficiency is never an
// error.
func OrthonormalBasis(x *mat.Dense, tol float64) (Basis, error) {
	if x == nil {
		return Basis{}, fmt.Errorf("%w: nil matrix", ErrShape)
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	r, c := x.Dims()
	if r < c {
		return svdBasis(x, tol)
	}

	var qr mat.QR
	qr.Factorize(x)

	var rm mat.Dense
	qr.RTo(&rm)
	maxPivot := 0.0
	for i := 0; i < c; i++ {
		maxPivot = math.Max(maxPivot, math.Abs(rm.At(i, i)))
	}
	if maxPivot == 0 {
		return EmptyBasis(r), nil
	}
	for i := 0; i < c; i++ {
		if math.Abs(rm.At(i, i)) <= tol*maxPivot {
			return svdBasis(x, tol)
		}
	}

	// Thin Q is Q applied to the leading c columns of the identity; the
	// full r×r factor is never formed.
	ident := mat.NewDense(r, c, nil)
	for i := 0; i < c; i++ {
		ident.Set(i, i, 1)
	}
	thin := mat.NewDense(r, c, nil)
	qr.QMulTo(thin, false, ident)
	return Basis{q: thin, rows: r}, nil
}

func svdBasis(x *mat.Dense, tol float64) (Basis, error) {
	r, c := x.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return Basis{}, fmt.Errorf("%w: svd of %dx%d matrix", ErrFactorFailed, r, c)
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return EmptyBasis(r), nil
	}
	rank := 0
	for _, v := range values {
		if v > tol*values[0] {
			rank++
		}
	}

	var u mat.Dense
	svd.UTo(&u)
	q := mat.DenseCopyOf(u.Slice(0, r, 0, rank))
	return Basis{q: q, rows: r, Deficient: rank < c}, nil
}

// SelectColumns concatenates the referenced column groups of x, in order,
// into a new matrix. Indices may repeat across groups.
func SelectColumns(x *mat.Dense, groups [][]int) (*mat.Dense, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrShape)
	}
	r, c := x.Dims()
	var idx []int
	for g, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: group %d", ErrEmptyGroup, g)
		}
		for _, j := range group {
			if j < 0 || j >= c {
				return nil, fmt.Errorf("%w: group %d references column %d of %d", ErrColumnIndex, g, j, c)
			}
			idx = append(idx, j)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: no groups", ErrEmptyGroup)
	}

	out := mat.NewDense(r, len(idx), nil)
	col := make([]float64, r)
	for k, j := range idx {
		mat.Col(col, j, x)
		out.SetCol(k, col)
	}
	return out, nil
}
