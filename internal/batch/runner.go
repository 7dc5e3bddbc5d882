package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/internal/fingerprint"
	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/internal/remote"
	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Options configures one run
type Options struct {
	RunID        string
	Endpoint     string
	Limits       Limits
	PollInterval time.Duration
	Reconcile    ReconcilerOptions
	RunDir       *writer.RunDir // optional; enables input copies and the output cache
	Reporter     ProgressReporter
	Metrics      *metrics.Collector
}

// Runner drives partitioning, submission, waiting and reconciliation
type Runner struct {
	opts       Options
	submitter  *Submitter
	waiter     *Waiter
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewRunner wires the pipeline components around a remote service and a fingerprint store
func NewRunner(svc remote.Service, store fingerprint.Store, opts Options, logger *slog.Logger) (*Runner, error) {
	if err := writer.ValidateRunID(opts.RunID); err != nil {
		return nil, err
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	return &Runner{
		opts:       opts,
		submitter:  NewSubmitter(svc, store, opts.RunDir, opts.Endpoint, opts.Metrics, logger),
		waiter:     NewWaiter(svc, opts.PollInterval, opts.Reporter, opts.Metrics, logger),
		reconciler: NewReconciler(svc, opts.RunDir, opts.Reconcile, opts.Metrics, logger),
		logger:     logger,
	}, nil
}

// Plan partitions requests without touching the remote service
func (r *Runner) Plan(reqs []models.Request) ([]*Batch, error) {
	for i, req := range reqs {
		if req.Ordinal != i {
			return nil, fmt.Errorf("request at position %d has ordinal %d", i, req.Ordinal)
		}
	}
	return Partition(reqs, r.opts.Limits), nil
}

// Run submits every request and returns one result slot per ordinal.
// After a batch sealed by the cost ceiling is submitted, the run waits for all
// outstanding jobs before submitting the next batch; count seals do not wait.
// A transport error aborts the run; rerunning with the same run ID resumes it.
func (r *Runner) Run(ctx context.Context, reqs []models.Request) (*Results, error) {
	batches, err := r.Plan(reqs)
	if err != nil {
		return nil, err
	}
	results := NewResults(r.opts.RunID, len(reqs))

	r.logger.Info("Starting run",
		"requests", len(reqs),
		"batches", len(batches),
		"endpoint", r.opts.Endpoint)

	var outstanding []*Batch
	settle := func() error {
		if err := r.waiter.Wait(ctx, outstanding); err != nil {
			return err
		}
		for _, b := range outstanding {
			if err := r.reconciler.Reconcile(ctx, r.opts.RunID, b, results); err != nil {
				return err
			}
		}
		outstanding = nil
		return nil
	}

	for _, b := range batches {
		if err := r.submitter.Submit(ctx, r.opts.RunID, b); err != nil {
			return nil, err
		}
		outstanding = append(outstanding, b)

		if b.SealReason == SealCost {
			r.logger.Info("Cost ceiling reached, waiting for outstanding jobs",
				"batch_index", b.Index,
				"outstanding", len(outstanding))
			if err := settle(); err != nil {
				return nil, err
			}
		}
	}
	if err := settle(); err != nil {
		return nil, err
	}

	s := results.Summarize(cost.Pricing{})
	r.logger.Info("All batches reconciled",
		"requests", s.Requests,
		"success", s.Success,
		"failed", s.Failed,
		"absent", s.Absent,
		"prompt_tokens", s.Usage.PromptTokens,
		"completion_tokens", s.Usage.CompletionTokens)

	return results, nil
}
