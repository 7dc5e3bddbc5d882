package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lamim/vellumbatch/pkg/models"
)

const (
	// DefaultHTTPTimeout bounds a single HTTP exchange, uploads and downloads included
	DefaultHTTPTimeout = 300 * time.Second
	// DefaultCompletionWindow is the only window the Batch API accepts today
	DefaultCompletionWindow = "24h"
	uploadFilename          = "batch.jsonl"
)

// OpenAIConfig configures the OpenAI Batch API adapter
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Timeout          time.Duration
	MaxRetries       int // transport-level retries performed by the SDK
	CompletionWindow string
	HTTPClient       *http.Client
}

// OpenAI implements Service with the OpenAI Files and Batches APIs
type OpenAI struct {
	client           openai.Client
	completionWindow string
	logger           *slog.Logger
}

// NewOpenAI creates an OpenAI Batch API adapter
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.CompletionWindow == "" {
		cfg.CompletionWindow = DefaultCompletionWindow
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:           openai.NewClient(opts...),
		completionWindow: cfg.CompletionWindow,
		logger:           logger,
	}
}

// Submit uploads the payload as a batch input file and creates the job
func (o *OpenAI) Submit(ctx context.Context, payload io.Reader, endpoint string) (SubmitResult, error) {
	file, err := o.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(payload, uploadFilename, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return SubmitResult{}, mapOpenAIError("upload input file", err)
	}
	o.logger.Debug("Uploaded batch input file", "file_id", file.ID, "bytes", file.Bytes)

	job, err := o.client.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow(o.completionWindow),
		Endpoint:         openai.BatchNewParamsEndpoint(endpoint),
		InputFileID:      file.ID,
	})
	if err != nil {
		return SubmitResult{FileID: file.ID}, mapOpenAIError("create batch", err)
	}

	return SubmitResult{JobID: job.ID, FileID: file.ID}, nil
}

// Status retrieves the job and maps its state
func (o *OpenAI) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	job, err := o.client.Batches.Get(ctx, jobID)
	if err != nil {
		return models.JobStatus{}, mapOpenAIError("retrieve batch", err)
	}

	state, err := mapBatchStatus(string(job.Status))
	if err != nil {
		return models.JobStatus{}, err
	}

	return models.JobStatus{
		JobID: job.ID,
		State: state,
		Counts: models.RequestCounts{
			Total:     int(job.RequestCounts.Total),
			Completed: int(job.RequestCounts.Completed),
			Failed:    int(job.RequestCounts.Failed),
		},
	}, nil
}

// FetchOutput downloads the output file and the error file of a job.
// Jobs that ended without either file yield no records.
func (o *OpenAI) FetchOutput(ctx context.Context, jobID string) ([]models.OutputLine, error) {
	job, err := o.client.Batches.Get(ctx, jobID)
	if err != nil {
		return nil, mapOpenAIError("retrieve batch", err)
	}

	var lines []models.OutputLine
	for _, fileID := range []string{job.OutputFileID, job.ErrorFileID} {
		if fileID == "" {
			continue
		}
		part, err := o.download(ctx, fileID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, part...)
	}

	o.logger.Debug("Fetched batch output",
		"job_id", jobID,
		"output_file_id", job.OutputFileID,
		"error_file_id", job.ErrorFileID,
		"records", len(lines))

	return lines, nil
}

func (o *OpenAI) download(ctx context.Context, fileID string) ([]models.OutputLine, error) {
	resp, err := o.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, mapOpenAIError("download file", err)
	}
	defer resp.Body.Close()

	lines, skipped, err := DecodeOutput(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if skipped > 0 {
		o.logger.Warn("Skipped malformed output records", "file_id", fileID, "skipped", skipped)
	}
	return lines, nil
}

func mapBatchStatus(status string) (models.JobState, error) {
	switch status {
	case "validating":
		return models.JobQueued, nil
	case "in_progress":
		return models.JobRunning, nil
	case "finalizing":
		return models.JobFinalizing, nil
	case "cancelling":
		return models.JobCancelling, nil
	case "completed":
		return models.JobCompleted, nil
	case "failed":
		return models.JobFailed, nil
	case "expired":
		return models.JobExpired, nil
	case "cancelled":
		return models.JobCancelled, nil
	}
	return "", fmt.Errorf("unrecognized batch status %q", status)
}
