package fit

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

// GradientDescent takes steps along a central finite-difference gradient,
// halving the step size whenever a step fails to improve the objective.
type GradientDescent struct {
	Steps        int
	LearningRate float64
	// Tolerance stops the run once an accepted step improves by less.
	Tolerance float64
	Logger    *slog.Logger
}

func (g *GradientDescent) Name() string { return "gradient_descent" }

func (g *GradientDescent) Minimize(ctx context.Context, obj Objective) (Report, error) {
	if g.Steps <= 0 {
		return Report{}, errors.New("steps must be > 0")
	}
	if g.LearningRate <= 0 {
		return Report{}, errors.New("learning rate must be > 0")
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	theta := Flatten(obj.Net)
	best, err := obj.At(theta)
	if err != nil {
		return Report{}, err
	}
	report := Report{Optimizer: g.Name(), History: []float64{best}}
	rate := g.LearningRate

	var evalErr error
	f := func(x []float64) float64 {
		v, err := obj.At(x)
		if err != nil && !infeasible(err) {
			evalErr = err
		}
		if err != nil {
			return math.Inf(1)
		}
		return v
	}
	settings := &fd.Settings{Formula: fd.Central}
	grad := make([]float64, len(theta))
	candidate := make([]float64, len(theta))

	for step := 0; step < g.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Steps++
		fd.Gradient(grad, f, theta, settings)
		if evalErr != nil {
			return report, evalErr
		}

		copy(candidate, theta)
		floats.AddScaled(candidate, -rate, grad)
		loss := f(candidate)
		if evalErr != nil {
			return report, evalErr
		}
		if !(loss < best) {
			report.Rejected++
			rate /= 2
			logger.Debug("step rejected", "step", step, "loss", loss, "rate", rate)
			if rate < 1e-12 {
				report.Converged = true
				break
			}
			continue
		}

		report.Accepted++
		improvement := best - loss
		copy(theta, candidate)
		best = loss
		report.History = append(report.History, best)
		logger.Info("step accepted", "step", step, "loss", best)
		if improvement < g.Tolerance {
			report.Converged = true
			break
		}
	}

	report.Final, err = obj.At(theta)
	if err != nil {
		return report, err
	}
	return report, nil
}
