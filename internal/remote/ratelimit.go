package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Limited throttles every call to the wrapped service with a shared token bucket
type Limited struct {
	next    Service
	limiter *rate.Limiter
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewLimited wraps next so that at most requestsPerMinute calls start per minute
func NewLimited(next Service, requestsPerMinute int, collector *metrics.Collector, logger *slog.Logger) *Limited {
	// Convert requests per minute to requests per second
	rps := float64(requestsPerMinute) / 60.0
	burst := max(1, requestsPerMinute/5) // Allow 20% burst capacity
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	logger.Debug("Created rate limiter",
		"rpm", requestsPerMinute,
		"rps", rps,
		"burst", burst)

	return &Limited{
		next:    next,
		limiter: limiter,
		metrics: collector,
		logger:  logger,
	}
}

func (l *Limited) wait(ctx context.Context, op string) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	l.metrics.RecordRateLimiterWait(op, time.Since(start))
	return nil
}

// Submit waits for a token, then submits
func (l *Limited) Submit(ctx context.Context, payload io.Reader, endpoint string) (SubmitResult, error) {
	if err := l.wait(ctx, OpSubmit); err != nil {
		return SubmitResult{}, err
	}
	return l.next.Submit(ctx, payload, endpoint)
}

// Status waits for a token, then polls
func (l *Limited) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	if err := l.wait(ctx, OpStatus); err != nil {
		return models.JobStatus{}, err
	}
	return l.next.Status(ctx, jobID)
}

// FetchOutput waits for a token, then downloads
func (l *Limited) FetchOutput(ctx context.Context, jobID string) ([]models.OutputLine, error) {
	if err := l.wait(ctx, OpFetch); err != nil {
		return nil, err
	}
	return l.next.FetchOutput(ctx, jobID)
}
