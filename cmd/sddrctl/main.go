package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"sddr/internal/config"
	"sddr/internal/dataset"
	"sddr/internal/storage"
	sddrapi "sddr/pkg/sddr"
)

const defaultDBPath = "sddr.db"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "eval":
		return runEval(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind         *string
	dbPath       *string
	artifactsDir *string
	verbose      *bool
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:         fs.String("store", storage.DefaultKind, "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", defaultDBPath, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", "", "directory for per-run fit artifacts"),
		verbose:      fs.Bool("verbose", false, "log progress to stderr"),
	}
}

func (s storeFlags) open(ctx context.Context, m *config.Model, set map[string]bool) (*sddrapi.Client, error) {
	kind, dbPath := *s.kind, *s.dbPath
	if m != nil {
		if m.Store != "" && !set["store"] {
			kind = m.Store
		}
		if m.DBPath != "" && !set["db-path"] {
			dbPath = m.DBPath
		}
	}
	logger := slog.New(slog.DiscardHandler)
	if *s.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	client, err := sddrapi.New(sddrapi.Options{StoreKind: kind, DBPath: dbPath, ArtifactsDir: *s.artifactsDir, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func loadInputs(configPath, dataPath string) (config.Model, dataset.Frame, error) {
	if configPath == "" {
		return config.Model{}, dataset.Frame{}, errors.New("--config is required")
	}
	if dataPath == "" {
		return config.Model{}, dataset.Frame{}, errors.New("--data is required")
	}
	m, err := config.Load(configPath)
	if err != nil {
		return config.Model{}, dataset.Frame{}, err
	}
	frame, err := dataset.ReadCSVFile(dataPath)
	if err != nil {
		return config.Model{}, dataset.Frame{}, err
	}
	return m, frame, nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	configPath := fs.String("config", "", "model config JSON path")
	dataPath := fs.String("data", "", "CSV data path")
	networkID := fs.String("network-id", "", "evaluate a stored network instead of initial weights")
	jsonOut := fs.Bool("json", false, "emit per-row parameters as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, frame, err := loadInputs(*configPath, *dataPath)
	if err != nil {
		return err
	}
	client, err := sf.open(ctx, &m, visited(fs))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, sddrapi.EvaluateRequest{Model: m, Data: frame, NetworkID: *networkID})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			NetworkID      string               `json:"network_id,omitempty"`
			Rows           int                  `json:"rows"`
			LogLoss        float64              `json:"log_loss"`
			Regularization float64              `json:"regularization"`
			Objective      float64              `json:"objective"`
			Parameters     map[string][]float64 `json:"parameters"`
			Mean           []float64            `json:"mean"`
		}{summary.NetworkID, summary.Rows, summary.LogLoss, summary.Regularization, summary.Objective, summary.Parameters, summary.Mean})
	}
	fmt.Printf("family=%s rows=%d log_loss=%.6f regularization=%.6f objective=%.6f\n",
		m.Family,
		summary.Rows,
		summary.LogLoss,
		summary.Regularization,
		summary.Objective,
	)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	configPath := fs.String("config", "", "model config JSON path")
	dataPath := fs.String("data", "", "CSV data path")
	networkID := fs.String("network-id", "", "warm-start and overwrite a stored network")
	optimizer := fs.String("optimizer", config.OptimizerGradientDescent, "optimizer: gradient_descent|hillclimb")
	steps := fs.Int("steps", 0, "gradient descent steps")
	learningRate := fs.Float64("learning-rate", 0, "gradient descent learning rate")
	attempts := fs.Int("attempts", 0, "hillclimb attempts")
	seed := fs.Int64("seed", 0, "weight initialization and optimizer seed")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := visited(fs)

	m, frame, err := loadInputs(*configPath, *dataPath)
	if err != nil {
		return err
	}
	if set["optimizer"] {
		m.Fit.Optimizer = *optimizer
	}
	if set["steps"] {
		m.Fit.Steps = *steps
	}
	if set["learning-rate"] {
		m.Fit.LearningRate = *learningRate
	}
	if set["attempts"] {
		m.Fit.Attempts = *attempts
	}
	if set["seed"] {
		m.Fit.Seed = *seed
	}
	if err := m.Validate(); err != nil {
		return err
	}

	client, err := sf.open(ctx, &m, set)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Fit(ctx, sddrapi.FitRequest{Model: m, Data: frame, NetworkID: *networkID})
	if err != nil {
		return err
	}
	initial := summary.Report.Final
	if len(summary.Report.History) > 0 {
		initial = summary.Report.History[0]
	}
	fmt.Printf("run_id=%s network_id=%s optimizer=%s steps=%d accepted=%d rejected=%d converged=%t initial=%.6f final=%.6f\n",
		summary.RunID,
		summary.NetworkID,
		summary.Report.Optimizer,
		summary.Report.Steps,
		summary.Report.Accepted,
		summary.Report.Rejected,
		summary.Report.Converged,
		initial,
		summary.Report.Final,
	)
	if summary.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	networkID := fs.String("network-id", "", "stored network id")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *networkID == "" {
		return errors.New("--network-id is required")
	}

	client, err := sf.open(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	state, err := client.State(ctx, *networkID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	networkID := fs.String("network-id", "", "only list runs of this network")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := sf.open(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Runs(ctx, sddrapi.RunsRequest{Limit: *limit, NetworkID: *networkID})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range records {
		fmt.Printf("run_id=%s network_id=%s created_at=%s optimizer=%s steps=%d converged=%t final=%.6f\n",
			r.RunID,
			r.NetworkID,
			r.CreatedAtUTC,
			r.Optimizer,
			r.Steps,
			r.Converged,
			r.Final,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	outDir := fs.String("out", "exports", "export output directory")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("--run-id is required")
	}
	if *sf.artifactsDir == "" {
		return errors.New("--artifacts-dir is required")
	}

	client, err := sf.open(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	dst, err := client.Export(ctx, *runID, *outDir)
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", *runID, dst)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: sddrctl <eval|fit|show|runs|export> [flags]", msg)
}
