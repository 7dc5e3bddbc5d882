package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/internal/remote"
)

// DefaultPollInterval is used when no interval is configured
const DefaultPollInterval = 60 * time.Second

// Progress aggregates request counts over the batches being waited on
type Progress struct {
	Jobs         int
	TerminalJobs int
	Total        int
	Completed    int
	Failed       int
}

// ProgressReporter receives one Progress per polling round
type ProgressReporter interface {
	Report(p Progress)
}

// Waiter polls remote jobs until all of them are terminal
type Waiter struct {
	svc      remote.Service
	interval time.Duration
	reporter ProgressReporter
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewWaiter creates a waiter. reporter may be nil.
func NewWaiter(svc remote.Service, interval time.Duration, reporter ProgressReporter, collector *metrics.Collector, logger *slog.Logger) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Waiter{
		svc:      svc,
		interval: interval,
		reporter: reporter,
		metrics:  collector,
		logger:   logger,
	}
}

// Wait blocks until every batch is terminal. The first round runs
// immediately; later rounds are spaced by the poll interval. There is no
// internal deadline: cancelling ctx while sleeping abandons the wait without
// cancelling any remote job. A failed poll aborts the wait.
func (w *Waiter) Wait(ctx context.Context, batches []*Batch) error {
	if len(batches) == 0 {
		return nil
	}
	for {
		progress := Progress{Jobs: len(batches)}
		for _, b := range batches {
			if !b.State.Terminal() {
				status, err := w.svc.Status(ctx, b.JobID)
				if err != nil {
					return &TransportError{Op: "poll", BatchIndex: b.Index, JobID: b.JobID, Err: err}
				}
				if err := b.observe(status); err != nil {
					return err
				}
				if b.State.Terminal() {
					w.logger.Info("Batch finished",
						"batch_index", b.Index,
						"job_id", b.JobID,
						"state", status.State,
						"completed", status.Counts.Completed,
						"failed", status.Counts.Failed)
				}
			}
			if b.State.Terminal() {
				progress.TerminalJobs++
			}
			progress.Total += max(b.Status.Counts.Total, len(b.Requests))
			progress.Completed += b.Status.Counts.Completed
			progress.Failed += b.Status.Counts.Failed
		}

		w.metrics.IncrementPollRounds()
		w.metrics.SetActiveJobs(progress.Jobs - progress.TerminalJobs)
		if w.reporter != nil {
			w.reporter.Report(progress)
		}
		w.logger.Info("Polling progress",
			"jobs", progress.Jobs,
			"terminal_jobs", progress.TerminalJobs,
			"requests", progress.Total,
			"completed", progress.Completed,
			"failed", progress.Failed)

		if progress.TerminalJobs == progress.Jobs {
			return nil
		}

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
