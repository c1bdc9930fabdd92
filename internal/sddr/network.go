package sddr

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"sddr/internal/family"
)

// Network owns one ParamNet per distribution parameter and turns their raw
// predictions into a distribution through a Family.
//
// A Network keeps the distribution of its latest Forward call. Concurrent
// Forward calls on one Network are not safe; callers must serialize them.
type Network struct {
	family  family.Family
	names   []string
	params  map[string]*ParamNet
	exec    ExecContext
	current family.Distribution
	args    map[string][]float64
}

func NewNetwork(fam family.Family, params map[string]ParamNetConfig, exec ExecContext) (*Network, error) {
	exec = exec.withDefaults()
	if fam == nil {
		return nil, fmt.Errorf("%w: family is required", ErrConfig)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: at least one distribution parameter is required", ErrConfig)
	}

	known := make(map[string]struct{}, len(fam.Parameters()))
	for _, name := range fam.Parameters() {
		known[name] = struct{}{}
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("%w: family %s requires parameter %s", ErrConfig, fam.Name(), name)
		}
	}
	for name := range params {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: family %s has no parameter %s", ErrConfig, fam.Name(), name)
		}
	}

	n := &Network{
		family: fam,
		params: make(map[string]*ParamNet, len(params)),
		exec:   exec,
	}
	for name, cfg := range params {
		p, err := NewParamNet(name, cfg, exec)
		if err != nil {
			return nil, err
		}
		n.params[name] = p
		n.names = append(n.names, name)
	}
	sort.Strings(n.names)
	return n, nil
}

func (n *Network) Family() family.Family { return n.family }

// ParamNames lists parameters in sorted order.
func (n *Network) ParamNames() []string { return append([]string(nil), n.names...) }

func (n *Network) Param(name string) (*ParamNet, bool) {
	p, ok := n.params[name]
	return p, ok
}

// Distribution returns the distribution of the latest successful Forward.
func (n *Network) Distribution() (family.Distribution, bool) {
	return n.current, n.current != nil
}

// Arguments returns a copy of the transformed distribution arguments of the
// latest successful Forward.
func (n *Network) Arguments() (map[string][]float64, bool) {
	if n.args == nil {
		return nil, false
	}
	out := make(map[string][]float64, len(n.args))
	for name, v := range n.args {
		out[name] = append([]float64(nil), v...)
	}
	return out, true
}

// Forward predicts every parameter, applies the family transform and
// instantiates the distribution. A failed pass leaves the network without a
// distribution or arguments.
func (n *Network) Forward(batches map[string]Batch) (family.Distribution, error) {
	n.current = nil
	n.args = nil

	raw, err := n.Predict(batches)
	if err != nil {
		return nil, err
	}
	args, err := n.family.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("family %s transform: %w", n.family.Name(), err)
	}
	dist, err := n.family.Instantiate(args)
	if err != nil {
		return nil, fmt.Errorf("family %s instantiate: %w", n.family.Name(), err)
	}
	n.current = dist
	n.args = args
	return dist, nil
}

// Predict returns the raw, untransformed prediction of every parameter.
func (n *Network) Predict(batches map[string]Batch) (map[string][]float64, error) {
	for _, name := range n.names {
		if _, ok := batches[name]; !ok {
			return nil, fmt.Errorf("%w: missing batch for parameter %s", ErrConfig, name)
		}
	}

	type result struct {
		pred *mat.VecDense
		err  error
	}
	results := make([]result, len(n.names))

	workers := n.exec.Workers
	if workers > len(n.names) {
		workers = len(n.names)
	}
	if workers <= 1 {
		for i, name := range n.names {
			pred, err := n.params[name].Predict(batches[name])
			results[i] = result{pred: pred, err: err}
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				for i := range jobs {
					name := n.names[i]
					pred, err := n.params[name].Predict(batches[name])
					results[i] = result{pred: pred, err: err}
				}
			}()
		}
		for i := range n.names {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	raw := make(map[string][]float64, len(n.names))
	for i, name := range n.names {
		if results[i].err != nil {
			return nil, results[i].err
		}
		raw[name] = vecData(results[i].pred)
	}
	return raw, nil
}

// LogLoss returns the per-sample negative log-density of y under the latest
// distribution.
func (n *Network) LogLoss(y []float64) ([]float64, error) {
	if n.current == nil {
		return nil, ErrNotReady
	}
	lp, err := n.current.LogDensity(y)
	if err != nil {
		return nil, err
	}
	for i := range lp {
		lp[i] = -lp[i]
	}
	return lp, nil
}

// Regularization sums the smoothing penalties of all parameters.
func (n *Network) Regularization() float64 {
	total := 0.0
	for _, name := range n.names {
		total += n.params[name].Penalty()
	}
	return total
}
