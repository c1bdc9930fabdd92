// Package sddr is the public entry point for building, fitting and
// persisting structured + deep distributional regression networks.
package sddr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"sddr/internal/config"
	"sddr/internal/dataset"
	"sddr/internal/fit"
	"sddr/internal/model"
	"sddr/internal/stats"
	"sddr/internal/storage"
)

const defaultDBPath = "sddr.db"

var ErrNotFound = errors.New("not found")

type Options struct {
	StoreKind string
	DBPath    string
	// ArtifactsDir receives per-run fit artifacts when set.
	ArtifactsDir string
	Logger       *slog.Logger
}

type Client struct {
	store        storage.Store
	logger       *slog.Logger
	artifactsDir string
}

type EvaluateRequest struct {
	Model config.Model
	Data  dataset.Frame
	// NetworkID loads stored weights instead of fresh initial ones.
	NetworkID string
}

type EvaluateSummary struct {
	NetworkID      string
	Rows           int
	Parameters     map[string][]float64
	Mean           []float64
	LogLoss        float64
	Regularization float64
	Objective      float64
}

type FitRequest struct {
	Model config.Model
	Data  dataset.Frame
	// NetworkID warm-starts from a stored network and overwrites it.
	NetworkID string
}

type FitSummary struct {
	RunID        string
	NetworkID    string
	Report       fit.Report
	ArtifactsDir string
}

type RunsRequest struct {
	Limit     int
	NetworkID string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, logger: logger, artifactsDir: opts.ArtifactsDir}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Evaluate runs one forward pass over req.Data and scores the target column.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	var prior *model.NetworkState
	if req.NetworkID != "" {
		state, err := c.State(ctx, req.NetworkID)
		if err != nil {
			return EvaluateSummary{}, err
		}
		prior = &state
	}

	b, err := build(req.Model, req.Data, prior, c.logger)
	if err != nil {
		return EvaluateSummary{}, err
	}
	dist, err := b.net.Forward(b.batches)
	if err != nil {
		return EvaluateSummary{}, err
	}
	params, _ := b.net.Arguments()
	loss, err := b.net.LogLoss(b.targets)
	if err != nil {
		return EvaluateSummary{}, err
	}

	summary := EvaluateSummary{
		NetworkID:      req.NetworkID,
		Rows:           len(b.targets),
		Parameters:     params,
		Mean:           dist.Mean(),
		LogLoss:        floats.Sum(loss),
		Regularization: b.net.Regularization(),
	}
	summary.Objective = summary.LogLoss + req.Model.Lambda*summary.Regularization
	return summary, nil
}

// Fit minimizes the penalized loss, stores the resulting network state and
// records the run.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	var prior *model.NetworkState
	networkID := req.NetworkID
	if networkID != "" {
		state, ok, err := c.store.GetNetworkState(ctx, networkID)
		if err != nil {
			return FitSummary{}, err
		}
		if ok {
			prior = &state
		}
	} else {
		networkID = uuid.NewString()
	}

	b, err := build(req.Model, req.Data, prior, c.logger)
	if err != nil {
		return FitSummary{}, err
	}
	obj := fit.Objective{
		Net:     b.net,
		Batches: b.batches,
		Targets: b.targets,
		Lambda:  req.Model.Lambda,
	}
	optimizer := optimizerFromConfig(req.Model.Fit, c.logger)

	runID := uuid.NewString()
	c.logger.Info("fit started", "run_id", runID, "network_id", networkID, "optimizer", optimizer.Name())
	report, err := optimizer.Minimize(ctx, obj)
	if err != nil {
		return FitSummary{}, fmt.Errorf("fit %s: %w", runID, err)
	}
	c.logger.Info("fit finished", "run_id", runID, "final", report.Final, "steps", report.Steps)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	state, err := snapshot(networkID, req.Model, b)
	if err != nil {
		return FitSummary{}, err
	}
	state.CreatedAtUTC = now
	if err := c.store.SaveNetworkState(ctx, state); err != nil {
		return FitSummary{}, err
	}
	record := model.FitRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
		RunID:           runID,
		NetworkID:       networkID,
		Optimizer:       report.Optimizer,
		Steps:           report.Steps,
		Accepted:        report.Accepted,
		Rejected:        report.Rejected,
		Converged:       report.Converged,
		History:         report.History,
		Final:           report.Final,
		CreatedAtUTC:    now,
	}
	if err := c.store.SaveFitRecord(ctx, record); err != nil {
		return FitSummary{}, err
	}

	summary := FitSummary{RunID: runID, NetworkID: networkID, Report: report}
	if c.artifactsDir != "" {
		summary.ArtifactsDir, err = stats.WriteFitArtifacts(c.artifactsDir, stats.FitArtifacts{
			Config: stats.RunConfig{
				RunID:        runID,
				NetworkID:    networkID,
				Family:       req.Model.Family,
				Target:       req.Model.Target,
				Rows:         len(b.targets),
				Lambda:       req.Model.Lambda,
				Optimizer:    report.Optimizer,
				Steps:        req.Model.Fit.Steps,
				LearningRate: req.Model.Fit.LearningRate,
				Attempts:     req.Model.Fit.Attempts,
				Seed:         req.Model.Fit.Seed,
				Workers:      req.Model.Workers,
				CreatedAtUTC: now,
			},
			Record:  record,
			Network: state,
		})
		if err != nil {
			return FitSummary{}, err
		}
	}
	return summary, nil
}

func (c *Client) State(ctx context.Context, networkID string) (model.NetworkState, error) {
	state, ok, err := c.store.GetNetworkState(ctx, networkID)
	if err != nil {
		return model.NetworkState{}, err
	}
	if !ok {
		return model.NetworkState{}, fmt.Errorf("network %s: %w", networkID, ErrNotFound)
	}
	return state, nil
}

func (c *Client) Run(ctx context.Context, runID string) (model.FitRecord, error) {
	record, ok, err := c.store.GetFitRecord(ctx, runID)
	if err != nil {
		return model.FitRecord{}, err
	}
	if !ok {
		return model.FitRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return record, nil
}

// Export copies the artifacts of a run into outDir.
func (c *Client) Export(_ context.Context, runID, outDir string) (string, error) {
	if c.artifactsDir == "" {
		return "", errors.New("artifacts dir is not configured")
	}
	return stats.ExportFitArtifacts(c.artifactsDir, runID, outDir)
}

// Runs lists fit records newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.FitRecord, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	records, err := c.store.ListFitRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.FitRecord, 0, min(req.Limit, len(records)))
	for _, r := range records {
		if req.NetworkID != "" && r.NetworkID != req.NetworkID {
			continue
		}
		out = append(out, r)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func optimizerFromConfig(cfg config.Fit, logger *slog.Logger) fit.Optimizer {
	if cfg.Optimizer == config.OptimizerHillClimb {
		return &fit.HillClimb{
			Rand:              rand.New(rand.NewSource(cfg.Seed)),
			Attempts:          cfg.Attempts,
			PerturbationRange: cfg.PerturbationRange,
			AnnealingFactor:   cfg.AnnealingFactor,
			MinImprovement:    cfg.MinImprovement,
			Logger:            logger,
		}
	}
	return &fit.GradientDescent{
		Steps:        cfg.Steps,
		LearningRate: cfg.LearningRate,
		Tolerance:    cfg.Tolerance,
		Logger:       logger,
	}
}
