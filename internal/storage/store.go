package storage

import (
	"context"

	"sddr/internal/model"
)

// Store persists fitted network states and optimizer run records.
type Store interface {
	Init(ctx context.Context) error
	SaveNetworkState(ctx context.Context, state model.NetworkState) error
	GetNetworkState(ctx context.Context, id string) (model.NetworkState, bool, error)
	SaveFitRecord(ctx context.Context, record model.FitRecord) error
	GetFitRecord(ctx context.Context, runID string) (model.FitRecord, bool, error)
	// ListFitRecords returns records newest first.
	ListFitRecords(ctx context.Context) ([]model.FitRecord, error)
}
