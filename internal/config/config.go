// Package config decodes the JSON model description used by sddrctl.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"sddr/internal/design"
)

var ErrInvalid = errors.New("invalid model config")

const (
	OptimizerGradientDescent = "gradient_descent"
	OptimizerHillClimb       = "hillclimb"

	defaultSteps        = 100
	defaultLearningRate = 0.01
	defaultAttempts     = 200
	defaultPerturbation = 0.5
)

// Deep describes one deep sub-model attached to a parameter.
type Deep struct {
	Name        string
	Features    []string
	Hidden      []int
	Activation  string
	OutputWidth int
	Seed        int64
}

type Param struct {
	Name   string
	Design design.Spec
	Deep   []Deep
}

type Fit struct {
	Optimizer         string
	Steps             int
	LearningRate      float64
	Tolerance         float64
	Attempts          int
	PerturbationRange float64
	// AnnealingFactor scales the perturbation range after every attempt;
	// zero keeps it constant.
	AnnealingFactor float64
	MinImprovement  float64
	Seed            int64
}

type Model struct {
	Family  string
	Target  string
	Lambda  float64
	Clip    bool
	Workers int
	// Params is sorted by name.
	Params []Param
	Fit    Fit
	Store  string
	DBPath string
}

func Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, err
	}
	m, err := Parse(data)
	if err != nil {
		return Model{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func Parse(data []byte) (Model, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Model{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	m := Model{
		Fit: Fit{
			Optimizer:         OptimizerGradientDescent,
			Steps:             defaultSteps,
			LearningRate:      defaultLearningRate,
			Attempts:          defaultAttempts,
			PerturbationRange: defaultPerturbation,
		},
	}
	if v, ok := asString(raw["family"]); ok {
		m.Family = v
	}
	if v, ok := asString(raw["target"]); ok {
		m.Target = v
	}
	if v, ok := asFloat64(raw["lambda"]); ok {
		m.Lambda = v
	}
	if v, ok := asBool(raw["clip"]); ok {
		m.Clip = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		m.Workers = v
	}
	if v, ok := asString(raw["store"]); ok {
		m.Store = v
	}
	if v, ok := asString(raw["db_path"]); ok {
		m.DBPath = v
	}
	if fit, ok := raw["fit"].(map[string]any); ok {
		parseFit(fit, &m.Fit)
	}

	params, ok := raw["params"].(map[string]any)
	if !ok {
		return Model{}, fmt.Errorf("%w: params object is required", ErrInvalid)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := parseParam(name, params[name])
		if err != nil {
			return Model{}, err
		}
		m.Params = append(m.Params, p)
	}

	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

func parseFit(raw map[string]any, fit *Fit) {
	if v, ok := asString(raw["optimizer"]); ok {
		fit.Optimizer = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		fit.Steps = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		fit.LearningRate = v
	}
	if v, ok := asFloat64(raw["tolerance"]); ok {
		fit.Tolerance = v
	}
	if v, ok := asInt(raw["attempts"]); ok {
		fit.Attempts = v
	}
	if v, ok := asFloat64(raw["perturbation_range"]); ok {
		fit.PerturbationRange = v
	}
	if v, ok := asFloat64(raw["annealing_factor"]); ok {
		fit.AnnealingFactor = v
	}
	if v, ok := asFloat64(raw["min_improvement"]); ok {
		fit.MinImprovement = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		fit.Seed = v
	}
}

func parseParam(name string, v any) (Param, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return Param{}, fmt.Errorf("%w: param %q must be an object", ErrInvalid, name)
	}
	p := Param{Name: name}
	if v, ok := asBool(raw["intercept"]); ok {
		p.Design.Intercept = v
	}
	if v, ok := asStringSlice(raw["linear"]); ok {
		p.Design.Linear = v
	}
	if splines, ok := raw["splines"].([]any); ok {
		for i, item := range splines {
			s, ok := item.(map[string]any)
			if !ok {
				return Param{}, fmt.Errorf("%w: param %q spline %d must be an object", ErrInvalid, name, i)
			}
			var spec design.SplineSpec
			if v, ok := asString(s["feature"]); ok {
				spec.Feature = v
			}
			if v, ok := asInt(s["df"]); ok {
				spec.DF = v
			}
			if v, ok := asInt(s["degree"]); ok {
				spec.Degree = v
			}
			if v, ok := asInt(s["diff_order"]); ok {
				spec.DiffOrder = v
			}
			if v, ok := asFloat64(s["lambda"]); ok {
				spec.Lambda = v
			}
			if v, ok := asFloat64(s["target_df"]); ok {
				spec.TargetDF = v
			}
			p.Design.Splines = append(p.Design.Splines, spec)
		}
	}
	if deep, ok := raw["deep"].([]any); ok {
		for i, item := range deep {
			d, ok := item.(map[string]any)
			if !ok {
				return Param{}, fmt.Errorf("%w: param %q deep model %d must be an object", ErrInvalid, name, i)
			}
			model := Deep{OutputWidth: 1, Activation: "relu"}
			if v, ok := asString(d["name"]); ok {
				model.Name = v
			}
			if v, ok := asStringSlice(d["features"]); ok {
				model.Features = v
			}
			if v, ok := asIntSlice(d["hidden"]); ok {
				model.Hidden = v
			}
			if v, ok := asString(d["activation"]); ok {
				model.Activation = v
			}
			if v, ok := asInt(d["output_width"]); ok {
				model.OutputWidth = v
			}
			if v, ok := asInt64(d["seed"]); ok {
				model.Seed = v
			}
			p.Deep = append(p.Deep, model)
		}
	}
	return p, nil
}

// Validate checks fields that can be judged without data.
func (m Model) Validate() error {
	if m.Family == "" {
		return fmt.Errorf("%w: family is required", ErrInvalid)
	}
	if m.Target == "" {
		return fmt.Errorf("%w: target column is required", ErrInvalid)
	}
	if len(m.Params) == 0 {
		return fmt.Errorf("%w: at least one parameter is required", ErrInvalid)
	}
	if m.Lambda < 0 {
		return fmt.Errorf("%w: lambda must be >= 0", ErrInvalid)
	}
	if m.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalid)
	}
	for _, p := range m.Params {
		seen := make(map[string]struct{}, len(p.Deep))
		for _, d := range p.Deep {
			if d.Name == "" {
				return fmt.Errorf("%w: param %q has an unnamed deep model", ErrInvalid, p.Name)
			}
			if _, dup := seen[d.Name]; dup {
				return fmt.Errorf("%w: param %q declares deep model %q twice", ErrInvalid, p.Name, d.Name)
			}
			seen[d.Name] = struct{}{}
			if len(d.Features) == 0 {
				return fmt.Errorf("%w: param %q deep model %q needs features", ErrInvalid, p.Name, d.Name)
			}
			if d.OutputWidth <= 0 {
				return fmt.Errorf("%w: param %q deep model %q output_width must be > 0", ErrInvalid, p.Name, d.Name)
			}
		}
	}
	switch m.Fit.Optimizer {
	case OptimizerGradientDescent:
		if m.Fit.Steps <= 0 || m.Fit.LearningRate <= 0 {
			return fmt.Errorf("%w: gradient descent needs steps > 0 and learning_rate > 0", ErrInvalid)
		}
	case OptimizerHillClimb:
		if m.Fit.Attempts <= 0 || m.Fit.PerturbationRange <= 0 {
			return fmt.Errorf("%w: hillclimb needs attempts > 0 and perturbation_range > 0", ErrInvalid)
		}
		if m.Fit.AnnealingFactor < 0 || m.Fit.MinImprovement < 0 {
			return fmt.Errorf("%w: hillclimb needs annealing_factor >= 0 and min_improvement >= 0", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported optimizer %q", ErrInvalid, m.Fit.Optimizer)
	}
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asIntSlice(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
