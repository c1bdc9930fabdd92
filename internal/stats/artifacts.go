package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"sddr/internal/model"
)

const (
	configFile      = "config.json"
	recordFile      = "fit_record.json"
	networkFile     = "network.json"
	lossHistoryFile = "loss_history.csv"
)

// RunConfig is the resolved configuration of one fit run.
type RunConfig struct {
	RunID        string  `json:"run_id"`
	NetworkID    string  `json:"network_id"`
	Family       string  `json:"family"`
	Target       string  `json:"target"`
	Rows         int     `json:"rows"`
	Lambda       float64 `json:"lambda"`
	Optimizer    string  `json:"optimizer"`
	Steps        int     `json:"steps,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	Attempts     int     `json:"attempts,omitempty"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

type FitArtifacts struct {
	Config  RunConfig
	Record  model.FitRecord
	Network model.NetworkState
}

// WriteFitArtifacts writes one directory per run under baseDir and returns it.
func WriteFitArtifacts(baseDir string, artifacts FitArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, recordFile), artifacts.Record); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, networkFile), artifacts.Network); err != nil {
		return "", err
	}
	if err := WriteLossHistory(runDir, artifacts.Record.History); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// ExportFitArtifacts copies the artifacts of runID into outDir/runID.
func ExportFitArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range []string{configFile, recordFile, networkFile, lossHistoryFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func WriteLossHistory(runDir string, history []float64) error {
	file, err := os.Create(filepath.Join(runDir, lossHistoryFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"step", "loss"}); err != nil {
		return err
	}
	for i, loss := range history {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(loss, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadLossHistory(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, lossHistoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("loss history header must have at least 2 columns")
	}

	history := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("loss history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		history = append(history, value)
	}
	return history, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
