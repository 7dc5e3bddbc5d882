package remote

import (
	"context"
	"io"
	"time"

	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Instrumented records the duration and outcome of every call
type Instrumented struct {
	next    Service
	metrics *metrics.Collector
}

// NewInstrumented wraps next with call metrics
func NewInstrumented(next Service, collector *metrics.Collector) *Instrumented {
	return &Instrumented{next: next, metrics: collector}
}

func (s *Instrumented) Submit(ctx context.Context, payload io.Reader, endpoint string) (SubmitResult, error) {
	start := time.Now()
	res, err := s.next.Submit(ctx, payload, endpoint)
	s.metrics.RecordRemoteCall(OpSubmit, time.Since(start), err == nil)
	return res, err
}

func (s *Instrumented) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	start := time.Now()
	status, err := s.next.Status(ctx, jobID)
	s.metrics.RecordRemoteCall(OpStatus, time.Since(start), err == nil)
	return status, err
}

func (s *Instrumented) FetchOutput(ctx context.Context, jobID string) ([]models.OutputLine, error) {
	start := time.Now()
	lines, err := s.next.FetchOutput(ctx, jobID)
	s.metrics.RecordRemoteCall(OpFetch, time.Since(start), err == nil)
	return lines, err
}
