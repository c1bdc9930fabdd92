// Package submodel defines the capability the network expects from a deep
// effect: a function from an input batch to a fixed number of output columns.
package submodel

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape        = errors.New("deep model shape mismatch")
	ErrInvalidModel = errors.New("invalid deep model")
)

// Model is an opaque deep effect. Apply must return one row per input row and
// exactly OutputWidth columns.
type Model interface {
	Apply(x *mat.Dense) (*mat.Dense, error)
	OutputWidth() int
}

// Func adapts a plain function with a declared width to Model.
type Func struct {
	Width int
	Fn    func(x *mat.Dense) (*mat.Dense, error)
}

func (f Func) Apply(x *mat.Dense) (*mat.Dense, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("%w: nil function", ErrInvalidModel)
	}
	return f.Fn(x)
}

func (f Func) OutputWidth() int { return f.Width }

// Registry is an immutable name to Model mapping resolved once at
// construction. Iteration order is the sorted model name order.
type Registry struct {
	models map[string]Model
	names  []string
	width  int
}

func NewRegistry(models map[string]Model) (*Registry, error) {
	reg := &Registry{models: make(map[string]Model, len(models))}
	for name, m := range models {
		if name == "" {
			return nil, fmt.Errorf("%w: empty model name", ErrInvalidModel)
		}
		if m == nil {
			return nil, fmt.Errorf("%w: model %s is nil", ErrInvalidModel, name)
		}
		if m.OutputWidth() <= 0 {
			return nil, fmt.Errorf("%w: model %s declares width %d", ErrInvalidModel, name, m.OutputWidth())
		}
		reg.models[name] = m
		reg.names = append(reg.names, name)
		reg.width += m.OutputWidth()
	}
	sort.Strings(reg.names)
	return reg, nil
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Get(name string) (Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) Len() int { return len(r.names) }

// TotalWidth is the sum of declared output widths.
func (r *Registry) TotalWidth() int { return r.width }

// Offset returns the first deep-head column owned by name.
func (r *Registry) Offset(name string) (int, bool) {
	off := 0
	for _, n := range r.names {
		if n == name {
			return off, true
		}
		off += r.models[n].OutputWidth()
	}
	return 0, false
}

// Apply runs the named model on x and checks the result against the declared
// width and the input row count.
func (r *Registry) Apply(name string, x *mat.Dense) (*mat.Dense, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %s", ErrInvalidModel, name)
	}
	if x == nil {
		return nil, fmt.Errorf("%w: model %s: missing input", ErrShape, name)
	}
	out, err := m.Apply(x)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: model %s returned nil", ErrShape, name)
	}
	rows, _ := x.Dims()
	gotRows, gotCols := out.Dims()
	if gotCols != m.OutputWidth() {
		return nil, fmt.Errorf("%w: model %s declared width %d, produced %d", ErrShape, name, m.OutputWidth(), gotCols)
	}
	if gotRows != rows {
		return nil, fmt.Errorf("%w: model %s returned %d rows for %d inputs", ErrShape, name, gotRows, rows)
	}
	return out, nil
}
