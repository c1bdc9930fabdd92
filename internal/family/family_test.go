package family

import (
	"errors"
	"math"
	"testing"
)

func TestNormalTransformKeepsScalePositive(t *testing.T) {
	f, err := Lookup("normal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	args, err := f.Transform(map[string][]float64{
		"loc":   {0.5},
		"scale": {-5.0},
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if got := args["scale"][0]; got <= 0 {
		t.Fatalf("scale must be strictly positive: got=%g", got)
	}
	if got := args["loc"][0]; got != 0.5 {
		t.Fatalf("loc should pass through: got=%g", got)
	}
	for _, raw := range []float64{-1000, -40, 0, 40, 1000} {
		if v := Positive(raw); !(v > 0) || math.IsInf(v, 0) {
			t.Fatalf("Positive(%g)=%g", raw, v)
		}
	}
}

func TestNormalLogDensity(t *testing.T) {
	f, err := Lookup("normal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	d, err := f.Instantiate(map[string][]float64{"loc": {0, 1}, "scale": {1, 2}})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	got, err := d.LogDensity([]float64{0, 1})
	if err != nil {
		t.Fatalf("log density: %v", err)
	}
	want0 := -0.5 * math.Log(2*math.Pi)
	want1 := want0 - math.Log(2)
	if math.Abs(got[0]-want0) > 1e-12 || math.Abs(got[1]-want1) > 1e-12 {
		t.Fatalf("unexpected log density: got=%v want=[%g %g]", got, want0, want1)
	}
	if mean := d.Mean(); mean[1] != 1 {
		t.Fatalf("unexpected mean: %v", mean)
	}
}

func TestInstantiateRejectsDomainViolations(t *testing.T) {
	f, err := Lookup("normal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	cases := []map[string][]float64{
		{"loc": {0}, "scale": {0}},
		{"loc": {math.NaN()}, "scale": {1}},
		{"loc": {0}, "scale": {math.Inf(1)}},
	}
	for i, args := range cases {
		if _, err := f.Instantiate(args); !errors.Is(err, ErrDomain) {
			t.Fatalf("case %d: expected ErrDomain, got: %v", i, err)
		}
	}
}

func TestTransformShapeErrors(t *testing.T) {
	f, err := Lookup("gamma")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := f.Transform(map[string][]float64{"concentration": {1}}); !errors.Is(err, ErrMissingParam) {
		t.Fatalf("expected ErrMissingParam, got: %v", err)
	}
	if _, err := f.Transform(map[string][]float64{"concentration": {1}, "rate": {1, 2}}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got: %v", err)
	}

	d, err := f.Instantiate(map[string][]float64{"concentration": {2}, "rate": {1}})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := d.LogDensity([]float64{1, 2}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for target length, got: %v", err)
	}
}

func TestBuiltinFamiliesEvaluate(t *testing.T) {
	targets := map[string]float64{
		"normal":      0.3,
		"laplace":     0.3,
		"lognormal":   1.5,
		"studentst":   0.3,
		"poisson":     2,
		"exponential": 0.7,
		"bernoulli":   1,
		"gamma":       1.2,
		"beta":        0.4,
	}
	for name, y := range targets {
		t.Run(name, func(t *testing.T) {
			f, err := Lookup(name)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			raw := make(map[string][]float64)
			for _, p := range f.Parameters() {
				raw[p] = []float64{0.2}
			}
			args, err := f.Transform(raw)
			if err != nil {
				t.Fatalf("transform: %v", err)
			}
			d, err := f.Instantiate(args)
			if err != nil {
				t.Fatalf("instantiate: %v", err)
			}
			lp, err := d.LogDensity([]float64{y})
			if err != nil {
				t.Fatalf("log density: %v", err)
			}
			if math.IsNaN(lp[0]) || math.IsInf(lp[0], 0) {
				t.Fatalf("non-finite log density: %g", lp[0])
			}
		})
	}
}

func TestRegisterDuplicateFamily(t *testing.T) {
	resetFamilyRegistryForTests()
	t.Cleanup(resetFamilyRegistryForTests)

	f := NewUnivariate("normal", []Parameter{{Name: "loc"}}, nil)
	if err := Register(f); !errors.Is(err, ErrFamilyExists) {
		t.Fatalf("expected ErrFamilyExists, got: %v", err)
	}
	if _, err := Lookup("missing"); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("expected ErrFamilyNotFound, got: %v", err)
	}
	names := List()
	if len(names) != 9 || names[0] != "bernoulli" {
		t.Fatalf("unexpected family list: %v", names)
	}
}
