package family

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

var familyRegistry = struct {
	mu sync.RWMutex
	m  map[string]Family
}{
	m: make(map[string]Family),
}

func init() {
	initializeBuiltInFamilies()
}

func initializeBuiltInFamilies() {
	loc := Parameter{Name: "loc", Link: Identity}
	scale := Parameter{Name: "scale", Link: Positive, Check: isPositive}

	MustRegister(NewUnivariate("normal", []Parameter{loc, scale}, func(a []float64) LogProber {
		return distuv.Normal{Mu: a[0], Sigma: a[1]}
	}))
	MustRegister(NewUnivariate("laplace", []Parameter{loc, scale}, func(a []float64) LogProber {
		return distuv.Laplace{Mu: a[0], Scale: a[1]}
	}))
	MustRegister(NewUnivariate("lognormal", []Parameter{loc, scale}, func(a []float64) LogProber {
		return distuv.LogNormal{Mu: a[0], Sigma: a[1]}
	}))
	MustRegister(NewUnivariate("studentst", []Parameter{
		{Name: "df", Link: Positive, Check: isPositive}, loc, scale,
	}, func(a []float64) LogProber {
		return distuv.StudentsT{Nu: a[0], Mu: a[1], Sigma: a[2]}
	}))
	MustRegister(NewUnivariate("poisson", []Parameter{
		{Name: "rate", Link: Positive, Check: isPositive},
	}, func(a []float64) LogProber {
		return distuv.Poisson{Lambda: a[0]}
	}))
	MustRegister(NewUnivariate("exponential", []Parameter{
		{Name: "rate", Link: Positive, Check: isPositive},
	}, func(a []float64) LogProber {
		return distuv.Exponential{Rate: a[0]}
	}))
	MustRegister(NewUnivariate("bernoulli", []Parameter{
		{Name: "probs", Link: Probability, Check: isProbability},
	}, func(a []float64) LogProber {
		return distuv.Bernoulli{P: a[0]}
	}))
	MustRegister(NewUnivariate("gamma", []Parameter{
		{Name: "concentration", Link: Positive, Check: isPositive},
		{Name: "rate", Link: Positive, Check: isPositive},
	}, func(a []float64) LogProber {
		return distuv.Gamma{Alpha: a[0], Beta: a[1]}
	}))
	MustRegister(NewUnivariate("beta", []Parameter{
		{Name: "concentration1", Link: Positive, Check: isPositive},
		{Name: "concentration0", Link: Positive, Check: isPositive},
	}, func(a []float64) LogProber {
		return distuv.Beta{Alpha: a[0], Beta: a[1]}
	}))
}

func Register(f Family) error {
	if f == nil {
		return errors.New("family is required")
	}
	if f.Name() == "" {
		return errors.New("family name is required")
	}
	if len(f.Parameters()) == 0 {
		return fmt.Errorf("family %s declares no parameters", f.Name())
	}

	familyRegistry.mu.Lock()
	defer familyRegistry.mu.Unlock()

	if _, exists := familyRegistry.m[f.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrFamilyExists, f.Name())
	}
	familyRegistry.m[f.Name()] = f
	return nil
}

func MustRegister(f Family) {
	if err := Register(f); err != nil {
		panic(err)
	}
}

func Lookup(name string) (Family, error) {
	familyRegistry.mu.RLock()
	f, ok := familyRegistry.m[name]
	familyRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFamilyNotFound, name)
	}
	return f, nil
}

func List() []string {
	familyRegistry.mu.RLock()
	defer familyRegistry.mu.RUnlock()

	names := make([]string, 0, len(familyRegistry.m))
	for name := range familyRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetFamilyRegistryForTests() {
	familyRegistry.mu.Lock()
	familyRegistry.m = make(map[string]Family)
	familyRegistry.mu.Unlock()
	initializeBuiltInFamilies()
}
