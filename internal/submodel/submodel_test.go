package submodel

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func constModel(width, actual int) Func {
	return Func{Width: width, Fn: func(x *mat.Dense) (*mat.Dense, error) {
		r, _ := x.Dims()
		return mat.NewDense(r, actual, nil), nil
	}}
}

func TestRegistryOrderAndOffsets(t *testing.T) {
	reg, err := NewRegistry(map[string]Model{
		"zeta":  constModel(2, 2),
		"alpha": constModel(3, 3),
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("unexpected order: %v", names)
	}
	if reg.TotalWidth() != 5 {
		t.Fatalf("unexpected total width: got=%d want=5", reg.TotalWidth())
	}
	if off, ok := reg.Offset("zeta"); !ok || off != 3 {
		t.Fatalf("unexpected offset: got=%d ok=%v", off, ok)
	}
}

func TestRegistryValidation(t *testing.T) {
	cases := map[string]map[string]Model{
		"empty name": {"": constModel(1, 1)},
		"nil model":  {"a": nil},
		"zero width": {"a": constModel(0, 0)},
	}
	for name, models := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRegistry(models); !errors.Is(err, ErrInvalidModel) {
				t.Fatalf("expected ErrInvalidModel, got: %v", err)
			}
		})
	}
}

func TestRegistryApplyChecksDeclaredWidth(t *testing.T) {
	reg, err := NewRegistry(map[string]Model{"dm": constModel(3, 2)})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Apply("dm", mat.NewDense(4, 1, nil))
	if !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got: %v", err)
	}
}

func TestMLPShapesAndDeterminism(t *testing.T) {
	cfg := MLPConfig{InputWidth: 2, Hidden: []int{4}, OutputWidth: 3, Activation: "tanh", Seed: 7}
	a, err := NewMLP(cfg)
	if err != nil {
		t.Fatalf("new mlp: %v", err)
	}
	b, err := NewMLP(cfg)
	if err != nil {
		t.Fatalf("new mlp: %v", err)
	}
	x := mat.NewDense(5, 2, []float64{0, 1, 1, 0, 0.5, 0.5, -1, 2, 3, -3})
	outA, err := a.Apply(x)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	outB, err := b.Apply(x)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	r, c := outA.Dims()
	if r != 5 || c != 3 {
		t.Fatalf("unexpected output dims: %dx%d", r, c)
	}
	if !mat.Equal(outA, outB) {
		t.Fatal("same seed should give identical outputs")
	}

	if _, err := a.Apply(mat.NewDense(2, 3, nil)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for wrong input width, got: %v", err)
	}
}

func TestMLPUnknownActivation(t *testing.T) {
	_, err := NewMLP(MLPConfig{InputWidth: 1, OutputWidth: 1, Activation: "missing"})
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestRegisterActivationDuplicate(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("dup", func(x float64) float64 { return x }); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterActivation("dup", func(x float64) float64 { return x }); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
	names := ListActivations()
	if len(names) != 6 || names[0] != "dup" {
		t.Fatalf("unexpected activation list: %+v", names)
	}
}

func TestSoftplusLargeInput(t *testing.T) {
	if got := Softplus(1000); got != 1000 {
		t.Fatalf("unexpected softplus: got=%f want=1000", got)
	}
	if got := Softplus(0); got < 0.693 || got > 0.694 {
		t.Fatalf("unexpected softplus(0): got=%f", got)
	}
}
