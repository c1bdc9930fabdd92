package sddr

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"sddr/internal/linalg"
	"sddr/internal/submodel"
)

// Batch is the input of one parameter for one forward pass: the structured
// design matrix plus one raw input per deep model, keyed by model name.
type Batch struct {
	Structured *mat.Dense
	Deep       map[string]*mat.Dense
}

// ParamNetConfig describes the sub-network predicting one distribution
// parameter.
type ParamNetConfig struct {
	StructuredWidth int
	Models          map[string]submodel.Model
	// Orthogonalization lists, per model name, the structured column groups
	// its output is made orthogonal to. Missing or empty means none.
	Orthogonalization map[string][][]int
	// Penalty is the smoothing matrix; nil means no penalty.
	Penalty           *mat.Dense
	StructuredWeights []float64
	DeepWeights       []float64
	Seed              int64
}

// ParamNet predicts one raw distribution parameter as the sum of a linear
// structured head and a linear head over orthogonalized deep outputs. Neither
// head has a bias.
type ParamNet struct {
	name       string
	width      int
	models     *submodel.Registry
	pattern    map[string][][]int
	penalty    *mat.Dense
	structured *mat.VecDense
	deep       *mat.VecDense
	exec       ExecContext
}

// Contributions splits a prediction into its structured and deep parts.
// Deep is nil when the sub-network has no deep models.
type Contributions struct {
	Structured *mat.VecDense
	Deep       *mat.VecDense
	// Orthogonalized holds each deep model's output after projection.
	Orthogonalized map[string]*mat.Dense
}

func NewParamNet(name string, cfg ParamNetConfig, exec ExecContext) (*ParamNet, error) {
	exec = exec.withDefaults()
	if cfg.StructuredWidth <= 0 {
		return nil, fmt.Errorf("%w: param %s: structured width must be > 0", ErrConfig, name)
	}
	models, err := submodel.NewRegistry(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("%w: param %s: %w", ErrConfig, name, err)
	}

	pattern := make(map[string][][]int, len(cfg.Orthogonalization))
	for model, groups := range cfg.Orthogonalization {
		if _, ok := models.Get(model); !ok {
			return nil, fmt.Errorf("%w: param %s: orthogonalization pattern names unknown model %s", ErrConfig, name, model)
		}
		for g, group := range groups {
			if len(group) == 0 {
				return nil, fmt.Errorf("%w: param %s: model %s: group %d is empty", ErrConfig, name, model, g)
			}
			for _, col := range group {
				if col < 0 || col >= cfg.StructuredWidth {
					return nil, fmt.Errorf("%w: param %s: model %s: group %d references column %d, structured width is %d",
						ErrConfig, name, model, g, col, cfg.StructuredWidth)
				}
			}
		}
		pattern[model] = cloneGroups(groups)
	}

	if cfg.Penalty != nil {
		r, c := cfg.Penalty.Dims()
		if r != cfg.StructuredWidth || c != cfg.StructuredWidth {
			return nil, fmt.Errorf("%w: param %s: penalty is %dx%d, structured width is %d", ErrConfig, name, r, c, cfg.StructuredWidth)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	structured, err := initWeights(cfg.StructuredWeights, cfg.StructuredWidth, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: param %s: structured weights: %w", ErrConfig, name, err)
	}

	p := &ParamNet{
		name:       name,
		width:      cfg.StructuredWidth,
		models:     models,
		pattern:    pattern,
		structured: structured,
		exec:       exec,
	}
	if cfg.Penalty != nil {
		p.penalty = mat.DenseCopyOf(cfg.Penalty)
	}
	if models.Len() > 0 {
		p.deep, err = initWeights(cfg.DeepWeights, models.TotalWidth(), rng)
		if err != nil {
			return nil, fmt.Errorf("%w: param %s: deep weights: %w", ErrConfig, name, err)
		}
	} else if len(cfg.DeepWeights) > 0 {
		return nil, fmt.Errorf("%w: param %s: deep weights given without deep models", ErrConfig, name)
	}
	return p, nil
}

func (p *ParamNet) Name() string { return p.name }

func (p *ParamNet) StructuredWidth() int { return p.width }

// DeepWidth is the summed declared width of all deep models.
func (p *ParamNet) DeepWidth() int { return p.models.TotalWidth() }

// ModelNames lists deep models in evaluation order.
func (p *ParamNet) ModelNames() []string { return p.models.Names() }

// ModelWidth returns the declared output width of a deep model.
func (p *ParamNet) ModelWidth(model string) (int, bool) {
	m, ok := p.models.Get(model)
	if !ok {
		return 0, false
	}
	return m.OutputWidth(), true
}

// Pattern returns a copy of the orthogonalization groups for model.
func (p *ParamNet) Pattern(model string) [][]int { return cloneGroups(p.pattern[model]) }

// PenaltyMatrix returns a copy of the smoothing matrix, or nil.
func (p *ParamNet) PenaltyMatrix() *mat.Dense {
	if p.penalty == nil {
		return nil
	}
	return mat.DenseCopyOf(p.penalty)
}

// Predict returns one raw prediction per sample.
func (p *ParamNet) Predict(batch Batch) (*mat.VecDense, error) {
	c, err := p.Contributions(batch)
	if err != nil {
		return nil, err
	}
	if c.Deep == nil {
		return c.Structured, nil
	}
	var out mat.VecDense
	out.AddVec(c.Structured, c.Deep)
	return &out, nil
}

func (p *ParamNet) Contributions(batch Batch) (Contributions, error) {
	x := batch.Structured
	if x == nil {
		return Contributions{}, fmt.Errorf("%w: param %s: missing structured matrix", ErrConfig, p.name)
	}
	rows, cols := x.Dims()
	if cols != p.width {
		return Contributions{}, fmt.Errorf("%w: param %s: structured matrix has %d columns, expected %d", ErrConfig, p.name, cols, p.width)
	}

	var out Contributions
	if p.models.Len() > 0 {
		// Deep outputs are validated before any head arithmetic.
		combined := mat.NewDense(rows, p.models.TotalWidth(), nil)
		out.Orthogonalized = make(map[string]*mat.Dense, p.models.Len())
		offset := 0
		for _, name := range p.models.Names() {
			utilde, err := p.deepOutput(name, x, batch.Deep[name])
			if err != nil {
				return Contributions{}, err
			}
			_, w := utilde.Dims()
			combined.Slice(0, rows, offset, offset+w).(*mat.Dense).Copy(utilde)
			out.Orthogonalized[name] = utilde
			offset += w
		}
		var deep mat.VecDense
		deep.MulVec(combined, p.deep)
		out.Deep = &deep
	}

	var structured mat.VecDense
	structured.MulVec(x, p.structured)
	out.Structured = &structured
	return out, nil
}

func (p *ParamNet) deepOutput(name string, x, input *mat.Dense) (*mat.Dense, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: param %s: missing input for model %s", ErrConfig, p.name, name)
	}
	rows, _ := x.Dims()
	if r, _ := input.Dims(); r != rows {
		return nil, fmt.Errorf("%w: param %s: model %s input has %d rows, structured matrix has %d", ErrConfig, p.name, name, r, rows)
	}
	uhat, err := p.models.Apply(name, input)
	if err != nil {
		if errors.Is(err, submodel.ErrShape) {
			return nil, fmt.Errorf("%w: param %s: %w", ErrConfig, p.name, err)
		}
		return nil, fmt.Errorf("param %s: %w", p.name, err)
	}

	groups := p.pattern[name]
	if len(groups) == 0 {
		return uhat, nil
	}
	xs, err := linalg.SelectColumns(x, groups)
	if err != nil {
		return nil, fmt.Errorf("%w: param %s: model %s: %w", ErrConfig, p.name, name, err)
	}
	basis, err := linalg.OrthonormalBasis(xs, p.exec.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("param %s: model %s: %w", p.name, name, err)
	}
	if basis.Deficient {
		_, c := xs.Dims()
		p.exec.Logger.Debug("rank deficient orthogonalization basis",
			"param", p.name, "model", name, "columns", c, "rank", basis.Rank())
	}
	return linalg.Residual(basis, uhat)
}

// Penalty returns w P wᵀ over the structured weights.
func (p *ParamNet) Penalty() float64 {
	if p.penalty == nil {
		return 0
	}
	return mat.Inner(p.structured, p.penalty, p.structured)
}

func (p *ParamNet) StructuredWeights() []float64 {
	return vecData(p.structured)
}

func (p *ParamNet) SetStructuredWeights(w []float64) error {
	if len(w) != p.width {
		return fmt.Errorf("%w: param %s: got %d structured weights, expected %d", ErrConfig, p.name, len(w), p.width)
	}
	p.structured = mat.NewVecDense(len(w), append([]float64(nil), w...))
	return nil
}

// DeepWeights returns nil when there are no deep models.
func (p *ParamNet) DeepWeights() []float64 {
	if p.deep == nil {
		return nil
	}
	return vecData(p.deep)
}

func (p *ParamNet) SetDeepWeights(w []float64) error {
	if p.deep == nil {
		if len(w) == 0 {
			return nil
		}
		return fmt.Errorf("%w: param %s: no deep models to take %d weights", ErrConfig, p.name, len(w))
	}
	if len(w) != p.models.TotalWidth() {
		return fmt.Errorf("%w: param %s: got %d deep weights, expected %d", ErrConfig, p.name, len(w), p.models.TotalWidth())
	}
	p.deep = mat.NewVecDense(len(w), append([]float64(nil), w...))
	return nil
}

func initWeights(given []float64, n int, rng *rand.Rand) (*mat.VecDense, error) {
	if len(given) > 0 {
		if len(given) != n {
			return nil, fmt.Errorf("got %d values, expected %d", len(given), n)
		}
		return mat.NewVecDense(n, append([]float64(nil), given...)), nil
	}
	bound := 1 / math.Sqrt(float64(n))
	data := make([]float64, n)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return mat.NewVecDense(n, data), nil
}

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func cloneGroups(groups [][]int) [][]int {
	if groups == nil {
		return nil
	}
	out := make([][]int, len(groups))
	for i, g := range groups {
		out[i] = append([]int(nil), g...)
	}
	return out
}
