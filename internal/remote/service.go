// Package remote adapts asynchronous batch inference services.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lamim/vellumbatch/pkg/models"
)

// Operation names used in logs and metrics
const (
	OpSubmit = "submit"
	OpStatus = "status"
	OpFetch  = "fetch"
)

// maxLineSize bounds one output record; long completions can exceed bufio's default
const maxLineSize = 64 * 1024 * 1024

// SubmitResult identifies a created remote job
type SubmitResult struct {
	JobID  string
	FileID string
}

// Service is an asynchronous batch inference backend
type Service interface {
	// Submit uploads a JSONL payload and creates a job for the given endpoint
	Submit(ctx context.Context, payload io.Reader, endpoint string) (SubmitResult, error)
	// Status returns the current state of a job
	Status(ctx context.Context, jobID string) (models.JobStatus, error)
	// FetchOutput returns every output and error record of a terminal job
	FetchOutput(ctx context.Context, jobID string) ([]models.OutputLine, error)
}

// DecodeOutput reads JSONL output records. Blank lines are ignored; lines that
// are not valid records are counted in skipped and otherwise ignored.
func DecodeOutput(r io.Reader) (lines []models.OutputLine, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line models.OutputLine
		if err := json.Unmarshal(raw, &line); err != nil || line.CustomID == "" {
			skipped++
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return lines, skipped, fmt.Errorf("failed to read output: %w", err)
	}
	return lines, skipped, nil
}

// EncodeOutput writes records as JSONL
func EncodeOutput(w io.Writer, lines []models.OutputLine) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range lines {
		if err := enc.Encode(&lines[i]); err != nil {
			return fmt.Errorf("failed to encode output line: %w", err)
		}
	}
	return nil
}
