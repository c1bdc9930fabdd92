package stats

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sddr/internal/model"
)

func TestWriteFitArtifactsRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := FitArtifacts{
		Config: RunConfig{RunID: "run-1", NetworkID: "net-1", Family: "normal", Target: "y", Rows: 10, Optimizer: "gradient_descent", Steps: 3},
		Record: model.FitRecord{RunID: "run-1", NetworkID: "net-1", History: []float64{4.5, 3.25, 3}},
		Network: model.NetworkState{
			ID:     "net-1",
			Family: "normal",
			Params: []model.ParamState{{Name: "loc", StructuredWeights: []float64{1}}},
		},
	}

	runDir, err := WriteFitArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if runDir != filepath.Join(baseDir, "run-1") {
		t.Fatalf("unexpected run dir: %s", runDir)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg != artifacts.Config {
		t.Fatalf("unexpected config: got=%+v want=%+v", cfg, artifacts.Config)
	}

	history, ok, err := ReadLossHistory(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read history: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(history, artifacts.Record.History) {
		t.Fatalf("unexpected history: got=%v want=%v", history, artifacts.Record.History)
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "missing"); ok || err != nil {
		t.Fatalf("expected missing config, ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadLossHistory(baseDir, "missing"); ok || err != nil {
		t.Fatalf("expected missing history, ok=%t err=%v", ok, err)
	}
}

func TestWriteFitArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteFitArtifacts(t.TempDir(), FitArtifacts{}); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestExportFitArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := t.TempDir()
	if _, err := WriteFitArtifacts(baseDir, FitArtifacts{
		Config: RunConfig{RunID: "run-2"},
		Record: model.FitRecord{RunID: "run-2", History: []float64{1}},
	}); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	dst, err := ExportFitArtifacts(baseDir, "run-2", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{configFile, recordFile, networkFile, lossHistoryFile} {
		if _, err := os.Stat(filepath.Join(dst, file)); err != nil {
			t.Fatalf("expected exported %s: %v", file, err)
		}
	}

	if _, err := ExportFitArtifacts(baseDir, "missing", outDir); err == nil {
		t.Fatal("expected missing run error")
	}
}
