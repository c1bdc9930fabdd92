package fit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"sddr/internal/family"
	"sddr/internal/sddr"
	"sddr/internal/submodel"
)

func regressionProblem(t *testing.T) Objective {
	t.Helper()
	fam, err := family.Lookup("normal")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	n := 40
	x := mat.NewDense(n, 2, nil)
	z := mat.NewDense(n, 1, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		v := -1 + 2*float64(i)/float64(n-1)
		x.Set(i, 0, 1)
		x.Set(i, 1, v)
		z.Set(i, 0, v)
		y[i] = 0.5 + 1.5*v + 0.3*math.Sin(5*v)
	}
	sine := submodel.Func{Width: 1, Fn: func(in *mat.Dense) (*mat.Dense, error) {
		r, _ := in.Dims()
		out := mat.NewDense(r, 1, nil)
		for i := 0; i < r; i++ {
			out.Set(i, 0, math.Sin(5*in.At(i, 0)))
		}
		return out, nil
	}}
	net, err := sddr.NewNetwork(fam, map[string]sddr.ParamNetConfig{
		"loc": {
			StructuredWidth:   2,
			Models:            map[string]submodel.Model{"dm": sine},
			Orthogonalization: map[string][][]int{"dm": {{0}, {1}}},
			StructuredWeights: []float64{0, 0},
			DeepWeights:       []float64{0},
		},
		"scale": {StructuredWidth: 1, StructuredWeights: []float64{0}},
	}, sddr.ExecContext{})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	ones := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		ones.Set(i, 0, 1)
	}
	return Objective{
		Net: net,
		Batches: map[string]sddr.Batch{
			"loc":   {Structured: x, Deep: map[string]*mat.Dense{"dm": z}},
			"scale": {Structured: ones},
		},
		Targets: y,
		Lambda:  0,
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	obj := regressionProblem(t)
	theta := Flatten(obj.Net)
	if len(theta) != 4 {
		t.Fatalf("unexpected parameter count: got=%d want=4", len(theta))
	}
	theta[0], theta[3] = 1.5, -2
	if err := Unflatten(obj.Net, theta); err != nil {
		t.Fatalf("unflatten: %v", err)
	}
	loc, _ := obj.Net.Param("loc")
	scale, _ := obj.Net.Param("scale")
	if loc.StructuredWeights()[0] != 1.5 || scale.StructuredWeights()[0] != -2 {
		t.Fatalf("unexpected weights after unflatten: %v %v", loc.StructuredWeights(), scale.StructuredWeights())
	}
	if err := Unflatten(obj.Net, theta[:3]); !errors.Is(err, sddr.ErrConfig) {
		t.Fatalf("expected ErrConfig for short vector, got: %v", err)
	}
	if err := Unflatten(obj.Net, append(theta, 1)); !errors.Is(err, sddr.ErrConfig) {
		t.Fatalf("expected ErrConfig for long vector, got: %v", err)
	}
}

func TestGradientDescentImprovesObjective(t *testing.T) {
	obj := regressionProblem(t)
	before, err := obj.Evaluate()
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	opt := &GradientDescent{Steps: 200, LearningRate: 0.01}
	report, err := opt.Minimize(context.Background(), obj)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	if !(report.Final < before) {
		t.Fatalf("expected improvement: before=%g after=%g", before, report.Final)
	}
	if report.Accepted == 0 || len(report.History) != report.Accepted+1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// The structured slope absorbs the linear trend; the deep head keeps the
	// orthogonalized sine.
	loc, _ := obj.Net.Param("loc")
	if slope := loc.StructuredWeights()[1]; math.Abs(slope-1.5) > 0.3 {
		t.Fatalf("unexpected structured slope: got=%g want~1.5", slope)
	}
	if _, ok := obj.Net.Distribution(); !ok {
		t.Fatal("network should be ready after minimize")
	}
}

func TestHillClimbImprovesObjective(t *testing.T) {
	obj := regressionProblem(t)
	before, err := obj.Evaluate()
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	opt := &HillClimb{Rand: rand.New(rand.NewSource(1)), Attempts: 300, PerturbationRange: 0.5, AnnealingFactor: 0.99}
	report, err := opt.Minimize(context.Background(), obj)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	if !(report.Final < before) {
		t.Fatalf("expected improvement: before=%g after=%g", before, report.Final)
	}
	if report.Steps != 300 || report.Accepted+report.Rejected != 300 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestObjectiveReportsDomainError(t *testing.T) {
	obj := regressionProblem(t)
	theta := Flatten(obj.Net)
	theta[0] = math.NaN()
	_, err := obj.At(theta)
	if !errors.Is(err, family.ErrDomain) {
		t.Fatalf("expected ErrDomain, got: %v", err)
	}
	if !infeasible(err) {
		t.Fatalf("domain error should be infeasible: %v", err)
	}
	if infeasible(errors.New("boom")) {
		t.Fatal("unrelated error should not be infeasible")
	}
}

func TestGradientDescentRejectsOutOfDomainStep(t *testing.T) {
	obj := regressionProblem(t)
	before, err := obj.Evaluate()
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// Every step overflows the weights to infinity, so the location leaves
	// the normal family's domain.
	opt := &GradientDescent{Steps: 3, LearningRate: math.MaxFloat64}
	report, err := opt.Minimize(context.Background(), obj)
	if err != nil {
		t.Fatalf("minimize should reject the step, got: %v", err)
	}
	if report.Rejected != 3 || report.Accepted != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Final != before {
		t.Fatalf("weights should be unchanged: before=%g after=%g", before, report.Final)
	}
}

func TestHillClimbRejectsOutOfDomainStep(t *testing.T) {
	obj := regressionProblem(t)
	opt := &HillClimb{Rand: rand.New(rand.NewSource(3)), Attempts: 5, PerturbationRange: math.Inf(1)}
	report, err := opt.Minimize(context.Background(), obj)
	if err != nil {
		t.Fatalf("minimize should reject the step, got: %v", err)
	}
	if report.Rejected != 5 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestOptimizerValidation(t *testing.T) {
	obj := regressionProblem(t)
	if _, err := (&GradientDescent{}).Minimize(context.Background(), obj); err == nil {
		t.Fatal("expected steps validation error")
	}
	if _, err := (&HillClimb{Attempts: 1}).Minimize(context.Background(), obj); err == nil {
		t.Fatal("expected random source validation error")
	}
}

func TestMinimizeHonorsCancellation(t *testing.T) {
	obj := regressionProblem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&GradientDescent{Steps: 5, LearningRate: 0.1}).Minimize(ctx, obj)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
}
