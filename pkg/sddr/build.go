package sddr

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"sddr/internal/config"
	"sddr/internal/dataset"
	"sddr/internal/design"
	"sddr/internal/family"
	"sddr/internal/model"
	core "sddr/internal/sddr"
	"sddr/internal/storage"
	"sddr/internal/submodel"
)

type built struct {
	net     *core.Network
	batches map[string]core.Batch
	targets []float64
	designs map[string]*design.Design
}

// build assembles a network and its batches from m and frame. When prior is
// set its spline ranges, penalties and weights replace freshly derived ones.
func build(m config.Model, frame dataset.Frame, prior *model.NetworkState, logger *slog.Logger) (built, error) {
	fam, err := family.Lookup(m.Family)
	if err != nil {
		return built{}, err
	}
	targets, err := frame.Column(m.Target)
	if err != nil {
		return built{}, fmt.Errorf("target: %w", err)
	}

	var priorParams map[string]model.ParamState
	if prior != nil {
		if prior.Family != m.Family {
			return built{}, fmt.Errorf("%w: stored network %s uses family %s, config uses %s", core.ErrConfig, prior.ID, prior.Family, m.Family)
		}
		priorParams = make(map[string]model.ParamState, len(prior.Params))
		for _, p := range prior.Params {
			priorParams[p.Name] = p
		}
	}

	b := built{
		batches: make(map[string]core.Batch, len(m.Params)),
		targets: targets,
		designs: make(map[string]*design.Design, len(m.Params)),
	}
	cfgs := make(map[string]core.ParamNetConfig, len(m.Params))
	for i, p := range m.Params {
		state, restoring := priorParams[p.Name]
		if prior != nil && !restoring {
			return built{}, fmt.Errorf("%w: stored network %s has no parameter %s", core.ErrConfig, prior.ID, p.Name)
		}

		d, err := design.FitWithRanges(frame, p.Design, state.SplineRanges)
		if err != nil {
			return built{}, fmt.Errorf("param %s: %w", p.Name, err)
		}
		x, err := d.Transform(frame, m.Clip)
		if err != nil {
			return built{}, fmt.Errorf("param %s: %w", p.Name, err)
		}

		var pen *mat.Dense
		if restoring && state.PenaltyWidth > 0 {
			if state.PenaltyWidth != d.Width() || len(state.Penalty) != d.Width()*d.Width() {
				return built{}, fmt.Errorf("%w: param %s: stored penalty does not match design width %d", core.ErrConfig, p.Name, d.Width())
			}
			pen = mat.NewDense(d.Width(), d.Width(), append([]float64(nil), state.Penalty...))
		} else {
			pen, err = d.Penalty(x)
			if err != nil {
				return built{}, fmt.Errorf("param %s: %w", p.Name, err)
			}
		}

		models := make(map[string]submodel.Model, len(p.Deep))
		pattern := make(map[string][][]int, len(p.Deep))
		deepInputs := make(map[string]*mat.Dense, len(p.Deep))
		for _, deep := range p.Deep {
			input, err := frame.Matrix(deep.Features)
			if err != nil {
				return built{}, fmt.Errorf("param %s: deep model %s: %w", p.Name, deep.Name, err)
			}
			mlp, err := submodel.NewMLP(submodel.MLPConfig{
				InputWidth:  len(deep.Features),
				Hidden:      deep.Hidden,
				OutputWidth: deep.OutputWidth,
				Activation:  deep.Activation,
				Seed:        deep.Seed,
			})
			if err != nil {
				return built{}, fmt.Errorf("param %s: deep model %s: %w", p.Name, deep.Name, err)
			}
			if restoring {
				if w, ok := state.ModelWidths[deep.Name]; !ok || w != deep.OutputWidth {
					return built{}, fmt.Errorf("%w: param %s: deep model %s does not match stored network %s", core.ErrConfig, p.Name, deep.Name, prior.ID)
				}
			}
			models[deep.Name] = mlp
			deepInputs[deep.Name] = input
			if groups := design.OrthogonalizationPattern(deep.Features, d.Terms()); len(groups) > 0 {
				pattern[deep.Name] = groups
			}
		}

		cfg := core.ParamNetConfig{
			StructuredWidth:   d.Width(),
			Models:            models,
			Orthogonalization: pattern,
			Penalty:           pen,
			Seed:              m.Fit.Seed + int64(i),
		}
		if restoring {
			cfg.StructuredWeights = state.StructuredWeights
			cfg.DeepWeights = state.DeepWeights
		}
		cfgs[p.Name] = cfg
		b.batches[p.Name] = core.Batch{Structured: x, Deep: deepInputs}
		b.designs[p.Name] = d
	}

	b.net, err = core.NewNetwork(fam, cfgs, core.ExecContext{Workers: m.Workers, Logger: logger})
	if err != nil {
		return built{}, err
	}
	return b, nil
}

func snapshot(id string, m config.Model, b built) (model.NetworkState, error) {
	state := model.NetworkState{
		VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
		ID:              id,
		Family:          m.Family,
		Lambda:          m.Lambda,
	}
	for _, name := range b.net.ParamNames() {
		p, ok := b.net.Param(name)
		if !ok {
			return model.NetworkState{}, fmt.Errorf("%w: parameter %s vanished", core.ErrConfig, name)
		}
		ps := model.ParamState{
			Name:              name,
			StructuredWeights: p.StructuredWeights(),
			DeepWeights:       p.DeepWeights(),
			SplineRanges:      b.designs[name].Ranges(),
		}
		if pen := p.PenaltyMatrix(); pen != nil {
			w, _ := pen.Dims()
			ps.PenaltyWidth = w
			ps.Penalty = mat.DenseCopyOf(pen).RawMatrix().Data
		}
		if models := p.ModelNames(); len(models) > 0 {
			ps.ModelWidths = make(map[string]int, len(models))
			ps.Orthogonalization = make(map[string][][]int, len(models))
			for _, mn := range models {
				ps.ModelWidths[mn], _ = p.ModelWidth(mn)
				if groups := p.Pattern(mn); len(groups) > 0 {
					ps.Orthogonalization[mn] = groups
				}
			}
		}
		state.Params = append(state.Params, ps)
	}
	return state, nil
}
