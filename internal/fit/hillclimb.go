package fit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
)

// HillClimb perturbs a random subset of weights per attempt and keeps the
// candidate only when the objective improves by more than MinImprovement.
type HillClimb struct {
	Rand              *rand.Rand
	Attempts          int
	PerturbationRange float64
	// AnnealingFactor scales the perturbation range after each attempt.
	AnnealingFactor float64
	MinImprovement  float64
	Logger          *slog.Logger
}

func (h *HillClimb) Name() string { return "hillclimb" }

func (h *HillClimb) Minimize(ctx context.Context, obj Objective) (Report, error) {
	if h == nil || h.Rand == nil {
		return Report{}, errors.New("random source is required")
	}
	if h.Attempts <= 0 {
		return Report{}, errors.New("attempts must be > 0")
	}
	if h.PerturbationRange < 0 {
		return Report{}, errors.New("perturbation range must be >= 0")
	}
	if h.AnnealingFactor < 0 {
		return Report{}, errors.New("annealing factor must be >= 0")
	}
	if h.MinImprovement < 0 {
		return Report{}, errors.New("min improvement must be >= 0")
	}
	perturbation := h.PerturbationRange
	if perturbation == 0 {
		perturbation = 1.0
	}
	annealing := h.AnnealingFactor
	if annealing == 0 {
		annealing = 1.0
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	best := Flatten(obj.Net)
	bestLoss, err := obj.At(best)
	if err != nil {
		return Report{}, err
	}
	report := Report{Optimizer: h.Name(), History: []float64{bestLoss}}
	if len(best) == 0 {
		report.Final = bestLoss
		return report, nil
	}

	candidate := make([]float64, len(best))
	for a := 0; a < h.Attempts; a++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Steps++
		copy(candidate, best)
		// Each weight is perturbed with probability 1/sqrt(n), at least one.
		threshold := 1 / math.Sqrt(float64(len(candidate)))
		touched := false
		for i := range candidate {
			if h.Rand.Float64() < threshold {
				candidate[i] += (2*h.Rand.Float64() - 1) * perturbation
				touched = true
			}
		}
		if !touched {
			i := h.Rand.Intn(len(candidate))
			candidate[i] += (2*h.Rand.Float64() - 1) * perturbation
		}

		loss, err := obj.At(candidate)
		if err != nil && !infeasible(err) {
			return report, err
		}
		if err == nil && loss < bestLoss-h.MinImprovement {
			copy(best, candidate)
			bestLoss = loss
			report.Accepted++
			report.History = append(report.History, bestLoss)
			logger.Info("candidate accepted", "attempt", a, "loss", bestLoss)
		} else {
			report.Rejected++
		}
		perturbation *= annealing
	}

	report.Final, err = obj.At(best)
	if err != nil {
		return report, err
	}
	return report, nil
}
