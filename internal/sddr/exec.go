// Package sddr composes structured and deep effects into per-parameter
// predictions and a distributional loss.
package sddr

import (
	"errors"
	"log/slog"

	"sddr/internal/linalg"
)

var (
	// ErrConfig marks fatal configuration errors: shape mismatches, bad
	// orthogonalization groups, wrong penalty sizes, missing inputs.
	ErrConfig = errors.New("sddr configuration error")
	// ErrNotReady is returned when a loss is requested before Forward.
	ErrNotReady = errors.New("network has no distribution; call Forward first")
)

// ExecContext carries execution settings explicitly through construction.
type ExecContext struct {
	// Workers bounds concurrent per-parameter predictions in Forward. Values
	// below 2 run parameters sequentially.
	Workers int
	// Tolerance is the relative rank threshold for orthogonal bases.
	Tolerance float64
	Logger    *slog.Logger
}

func (e ExecContext) withDefaults() ExecContext {
	if e.Workers <= 0 {
		e.Workers = 1
	}
	if e.Tolerance <= 0 {
		e.Tolerance = linalg.DefaultTolerance
	}
	if e.Logger == nil {
		e.Logger = slog.New(slog.DiscardHandler)
	}
	return e
}
