package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cliModelConfig = `{
  "family": "normal",
  "target": "y",
  "lambda": 0.05,
  "params": {
    "loc": {
      "intercept": true,
      "linear": ["x"],
      "splines": [{"feature": "z", "df": 5, "lambda": 1}]
    },
    "scale": {"intercept": true}
  },
  "fit": {"steps": 20, "learning_rate": 0.005, "seed": 3}
}`

func writeInputs(t *testing.T, dir string) (string, string) {
	t.Helper()
	configPath := filepath.Join(dir, "model.json")
	if err := os.WriteFile(configPath, []byte(cliModelConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var data strings.Builder
	data.WriteString("x,z,y\n")
	for i := 0; i < 25; i++ {
		x := float64(i) / 24
		z := math.Cos(float64(i))
		fmt.Fprintf(&data, "%g,%g,%g\n", x, z, 0.5+x+0.3*z*z)
	}
	dataPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(dataPath, []byte(data.String()), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	return configPath, dataPath
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestEvalRequiresConfigAndData(t *testing.T) {
	if err := run(context.Background(), []string{"eval"}); err == nil || !strings.Contains(err.Error(), "--config") {
		t.Fatalf("expected missing config error, got %v", err)
	}
	if err := run(context.Background(), []string{"eval", "--config", "model.json"}); err == nil || !strings.Contains(err.Error(), "--data") {
		t.Fatalf("expected missing data error, got %v", err)
	}
}

func TestEvalPrintsSummary(t *testing.T) {
	configPath, dataPath := writeInputs(t, t.TempDir())
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"eval", "--config", configPath, "--data", dataPath})
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !strings.Contains(out, "family=normal rows=25") || !strings.Contains(out, "objective=") {
		t.Fatalf("unexpected eval output: %q", out)
	}
}

func TestFitPrintsRun(t *testing.T) {
	configPath, dataPath := writeInputs(t, t.TempDir())
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"fit", "--config", configPath, "--data", dataPath, "--steps", "5"})
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !strings.Contains(out, "run_id=") || !strings.Contains(out, "optimizer=gradient_descent steps=") {
		t.Fatalf("unexpected fit output: %q", out)
	}
}

func TestFitWritesArtifactsAndExport(t *testing.T) {
	dir := t.TempDir()
	configPath, dataPath := writeInputs(t, dir)
	artifactsDir := filepath.Join(dir, "artifacts")
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"fit", "--config", configPath, "--data", dataPath, "--artifacts-dir", artifactsDir, "--optimizer", "hillclimb", "--attempts", "10"})
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !strings.Contains(out, "optimizer=hillclimb") || !strings.Contains(out, "artifacts="+artifactsDir) {
		t.Fatalf("unexpected fit output: %q", out)
	}
	var runID string
	for _, field := range strings.Fields(out) {
		if v, ok := strings.CutPrefix(field, "run_id="); ok {
			runID = v
		}
	}

	exportDir := filepath.Join(dir, "exports")
	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"export", "--run-id", runID, "--artifacts-dir", artifactsDir, "--out", exportDir})
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, filepath.Join(exportDir, runID)) {
		t.Fatalf("unexpected export output: %q", out)
	}
	if err := run(context.Background(), []string{"export", "--artifacts-dir", artifactsDir}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestFitRejectsInvalidOverride(t *testing.T) {
	configPath, dataPath := writeInputs(t, t.TempDir())
	err := run(context.Background(), []string{"fit", "--config", configPath, "--data", dataPath, "--optimizer", "adam"})
	if err == nil || !strings.Contains(err.Error(), "optimizer") {
		t.Fatalf("expected optimizer error, got %v", err)
	}
}

func TestRunsOnEmptyMemoryStore(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs"})
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(out) != "no runs found" {
		t.Fatalf("unexpected runs output: %q", out)
	}
	if err := run(context.Background(), []string{"runs", "--limit", "0"}); err == nil {
		t.Fatal("expected limit validation error")
	}
}

func TestShowRequiresNetworkID(t *testing.T) {
	if err := run(context.Background(), []string{"show"}); err == nil || !strings.Contains(err.Error(), "--network-id") {
		t.Fatalf("expected missing network id error, got %v", err)
	}
	if err := run(context.Background(), []string{"show", "--network-id", "missing"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
