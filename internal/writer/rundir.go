package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// RunDir manages the per-run directory <storage_dir>/<run_id>/ holding
// batch inputs, cached outputs, results and the run log
type RunDir struct {
	dir    string
	runID  string
	logger *slog.Logger
}

// NewRunDir creates (or reopens) the directory of a run
func NewRunDir(storageDir, runID string, logger *slog.Logger) (*RunDir, error) {
	dir, err := RunPath(storageDir, runID)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if errors.Is(statErr, os.ErrNotExist) {
		logger.Info("Created new run directory", "path", dir)
	} else {
		logger.Info("Reusing existing run directory", "path", dir)
	}

	return &RunDir{
		dir:    dir,
		runID:  runID,
		logger: logger,
	}, nil
}

// Dir returns the run directory path
func (r *RunDir) Dir() string {
	return r.dir
}

// RunID returns the run ID the directory belongs to
func (r *RunDir) RunID() string {
	return r.runID
}

// InputPath returns the path of a batch upload payload copy
func (r *RunDir) InputPath(batchIndex int) string {
	return filepath.Join(r.dir, strconv.Itoa(batchIndex)+"-input.jsonl")
}

// OutputPath returns the path of a batch's cached output
func (r *RunDir) OutputPath(batchIndex int) string {
	return filepath.Join(r.dir, strconv.Itoa(batchIndex)+"-output.jsonl")
}

// ResultsPath returns the path of the reconciled results file
func (r *RunDir) ResultsPath() string {
	return filepath.Join(r.dir, "results.jsonl")
}

// LogPath returns the full path to the run log file
func (r *RunDir) LogPath() string {
	return filepath.Join(r.dir, "run.log")
}

// ConfigBackupPath returns the full path to the config backup
func (r *RunDir) ConfigBackupPath() string {
	return filepath.Join(r.dir, "config.toml.bak")
}

// BackupConfig copies the config file to the run directory
func (r *RunDir) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := r.ConfigBackupPath()
	if err := WriteFileAtomic(backupPath, source); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	r.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// WriteFileAtomic writes data to a temp file and renames it over path
func WriteFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
