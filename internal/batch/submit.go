package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lamim/vellumbatch/internal/fingerprint"
	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/internal/remote"
	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Submitter turns sealed batches into remote jobs, at most once per
// (run ID, batch index, fingerprint) as long as the fingerprint store survives
type Submitter struct {
	svc      remote.Service
	store    fingerprint.Store
	runDir   *writer.RunDir // optional; receives input copies and reads cached output
	endpoint string
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewSubmitter creates a submitter. runDir may be nil.
func NewSubmitter(svc remote.Service, store fingerprint.Store, runDir *writer.RunDir, endpoint string, collector *metrics.Collector, logger *slog.Logger) *Submitter {
	return &Submitter{
		svc:      svc,
		store:    store,
		runDir:   runDir,
		endpoint: endpoint,
		metrics:  collector,
		logger:   logger,
	}
}

// Submit fingerprints the batch payload and either reuses the job recorded for
// the same content or uploads the payload and records the new job. A record
// with a different fingerprint is replaced by the new submission.
// A crash between creating the job and recording it leads to a second
// submission on restart.
func (s *Submitter) Submit(ctx context.Context, runID string, b *Batch) error {
	if b.State != StateSealed {
		return fmt.Errorf("submit batch %d: %w: state is %s", b.Index, ErrInvalidTransition, b.State)
	}

	payload, err := BuildPayload(runID, s.endpoint, b)
	if err != nil {
		return fmt.Errorf("failed to build payload for batch %d: %w", b.Index, err)
	}
	b.payload = payload
	b.Fingerprint = fingerprint.Fingerprint(payload)

	rec, err := s.store.Lookup(ctx, runID, b.Index)
	switch {
	case err == nil && rec.Fingerprint == b.Fingerprint:
		return s.reuse(b, rec)
	case err == nil:
		s.logger.Warn("Batch content changed since last submission, resubmitting",
			"batch_index", b.Index,
			"previous_job_id", rec.JobID,
			"stored_fingerprint", short(rec.Fingerprint),
			"fingerprint", short(b.Fingerprint))
	case !errors.Is(err, fingerprint.ErrNotFound):
		return &TransportError{Op: "lookup", BatchIndex: b.Index, Err: err}
	}

	if s.runDir != nil {
		// Output cached for an earlier job of this index no longer matches
		if err := os.Remove(s.runDir.OutputPath(b.Index)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale output cache for batch %d: %w", b.Index, err)
		}
		if err := writer.WriteFileAtomic(s.runDir.InputPath(b.Index), payload); err != nil {
			s.logger.Warn("Failed to write batch input copy", "batch_index", b.Index, "error", err)
		}
	}

	res, err := s.svc.Submit(ctx, bytes.NewReader(payload), s.endpoint)
	if err != nil {
		return &TransportError{Op: "submit", BatchIndex: b.Index, Err: err}
	}

	if err := s.store.Record(ctx, models.SubmissionRecord{
		RunID:        runID,
		BatchIndex:   b.Index,
		Fingerprint:  b.Fingerprint,
		JobID:        res.JobID,
		FileID:       res.FileID,
		RequestCount: len(b.Requests),
		CostSum:      b.Cost,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return &TransportError{Op: "record", BatchIndex: b.Index, JobID: res.JobID, Err: err}
	}

	b.JobID = res.JobID
	b.FileID = res.FileID
	if err := b.transition(StateSubmitted); err != nil {
		return err
	}
	s.metrics.IncrementSubmitted(string(b.SealReason), false)

	s.logger.Info("Submitted batch",
		"batch_index", b.Index,
		"job_id", b.JobID,
		"requests", len(b.Requests),
		"cost", b.Cost,
		"seal_reason", b.SealReason)
	return nil
}

func (s *Submitter) reuse(b *Batch, rec *models.SubmissionRecord) error {
	b.JobID = rec.JobID
	b.FileID = rec.FileID
	b.Reused = true
	if err := b.transition(StateSubmitted); err != nil {
		return err
	}
	s.metrics.IncrementSubmitted(string(b.SealReason), true)

	if s.runDir != nil {
		lines, err := readCachedOutput(s.runDir.OutputPath(b.Index))
		switch {
		case err == nil:
			b.output = lines
			if err := b.transition(StateDownloaded); err != nil {
				return err
			}
			s.logger.Info("Reusing cached batch output",
				"batch_index", b.Index,
				"job_id", b.JobID,
				"records", len(lines))
			return nil
		case !errors.Is(err, os.ErrNotExist):
			s.logger.Warn("Ignoring unreadable output cache", "batch_index", b.Index, "error", err)
		}
	}

	s.logger.Info("Reusing submitted batch",
		"batch_index", b.Index,
		"job_id", b.JobID,
		"fingerprint", short(b.Fingerprint))
	return nil
}

func readCachedOutput(path string) ([]models.OutputLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, _, err := remote.DecodeOutput(f)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []models.OutputLine{}
	}
	return lines, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
