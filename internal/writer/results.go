package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/vellumbatch/pkg/models"
)

// ResultsWriter handles thread-safe writing to the results file
type ResultsWriter struct {
	file   *os.File
	buf    *bufio.Writer
	mu     sync.Mutex
	logger *slog.Logger
	count  int
}

// NewResultsWriter creates (truncating) the results file at path
func NewResultsWriter(path string, logger *slog.Logger) (*ResultsWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create results file: %w", err)
	}

	logger.Info("Created results file", "path", path)

	return &ResultsWriter{
		file:   file,
		buf:    bufio.NewWriter(file),
		logger: logger,
	}, nil
}

// WriteRecord writes a single record to the results file
func (rw *ResultsWriter) WriteRecord(record models.ResultRecord) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := rw.buf.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	rw.count++
	return nil
}

// Close flushes and closes the results file
func (rw *ResultsWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if err := rw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush results file: %w", err)
	}
	if err := rw.file.Sync(); err != nil {
		rw.logger.Warn("Failed to sync results file", "error", err)
	}

	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close results file: %w", err)
	}

	rw.logger.Info("Closed results file", "records", rw.count)
	return nil
}

// ReadResults loads every record of a results file
func ReadResults(path string) ([]models.ResultRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	var records []models.ResultRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec models.ResultRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse results line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	return records, nil
}
