package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote service metrics
	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vellumbatch_remote_call_duration_seconds",
			Help:    "Remote batch service call duration in seconds by operation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"op", "status"}, // op: "submit"/"status"/"fetch"
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vellumbatch_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by operation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"op"},
	)

	// Batch lifecycle metrics
	batchesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vellumbatch_batches_submitted_total",
			Help: "Batches handed to the remote service, or reused from the fingerprint store",
		},
		[]string{"seal_reason", "mode"}, // mode: "new"/"reused"
	)

	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vellumbatch_active_jobs",
			Help: "Remote jobs submitted and not yet terminal",
		},
	)

	pollRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vellumbatch_poll_rounds_total",
			Help: "Completed polling rounds",
		},
	)

	// Reconciliation metrics
	resultsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vellumbatch_results_total",
			Help: "Per-request results by kind",
		},
		[]string{"kind"}, // "success"/"failed"/"absent"
	)

	repairOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vellumbatch_repair_total",
			Help: "Document repair outcomes",
		},
		[]string{"outcome"}, // "valid"/"repaired"/"unrepairable"
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordRemoteCall records a remote service call duration
func (c *Collector) RecordRemoteCall(op string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	remoteCallDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(op string, duration time.Duration) {
	if c == nil {
		return
	}
	rateLimiterWaitDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// IncrementSubmitted counts a submitted batch
func (c *Collector) IncrementSubmitted(sealReason string, reused bool) {
	if c == nil {
		return
	}
	mode := "new"
	if reused {
		mode = "reused"
	}
	batchesSubmitted.WithLabelValues(sealReason, mode).Inc()
}

// SetActiveJobs sets the number of jobs still running remotely
func (c *Collector) SetActiveJobs(count int) {
	if c == nil {
		return
	}
	activeJobs.Set(float64(count))
}

// IncrementPollRounds counts one polling round
func (c *Collector) IncrementPollRounds() {
	if c == nil {
		return
	}
	pollRounds.Inc()
}

// AddResults counts reconciled results of one kind
func (c *Collector) AddResults(kind string, n int) {
	if c == nil || n == 0 {
		return
	}
	resultsReconciled.WithLabelValues(kind).Add(float64(n))
}

// IncrementRepair counts one repair outcome
func (c *Collector) IncrementRepair(outcome string) {
	if c == nil {
		return
	}
	repairOutcomes.WithLabelValues(outcome).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	c.logger.Info("Serving metrics", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
