package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/internal/remote"
	"github.com/lamim/vellumbatch/internal/repair"
	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

// CodeInvalidDocument marks a repaired document rejected by the response schema
const CodeInvalidDocument = "invalid_document"

// ReconcilerOptions controls how response payloads are interpreted
type ReconcilerOptions struct {
	RepairContent bool               // run textual payloads through the repair engine
	Schema        *jsonschema.Schema // optional; validates repaired documents
}

// Reconciler downloads job output and scatters per-request results by ordinal
type Reconciler struct {
	svc     remote.Service
	runDir  *writer.RunDir // optional output cache
	opts    ReconcilerOptions
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewReconciler creates a reconciler. runDir may be nil.
func NewReconciler(svc remote.Service, runDir *writer.RunDir, opts ReconcilerOptions, collector *metrics.Collector, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		svc:     svc,
		runDir:  runDir,
		opts:    opts,
		metrics: collector,
		logger:  logger,
	}
}

// Reconcile stores a result for every usable output record of a terminal
// batch. Failed, expired and cancelled jobs are downloaded too since they may
// carry partial output. Per-request problems never fail the call; only a
// failed download does.
func (r *Reconciler) Reconcile(ctx context.Context, runID string, b *Batch, results *Results) error {
	if err := r.download(ctx, b); err != nil {
		return err
	}
	results.assign(b)

	inBatch := make(map[int]bool, len(b.Requests))
	for _, req := range b.Requests {
		inBatch[req.Ordinal] = true
	}

	var success, failed, skipped int
	for _, line := range b.output {
		lineRun, _, ordinal, err := ParseCustomID(line.CustomID)
		if err != nil || lineRun != runID || !inBatch[ordinal] {
			skipped++
			r.logger.Warn("Skipping output record outside this batch",
				"batch_index", b.Index,
				"custom_id", line.CustomID)
			continue
		}

		res := r.resultFor(b.Index, ordinal, line)
		if res.Kind == Absent {
			results.discarded.Add(res.Usage)
			continue
		}
		if err := results.Set(ordinal, res); err != nil {
			if errors.Is(err, ErrResultAlreadySet) {
				r.logger.Warn("Duplicate output record ignored", "batch_index", b.Index, "ordinal", ordinal)
				continue
			}
			return err
		}
		if res.Kind == Success {
			success++
		} else {
			failed++
		}
	}

	absent := len(b.Requests) - success - failed
	r.metrics.AddResults(Success.String(), success)
	r.metrics.AddResults(Failed.String(), failed)
	r.metrics.AddResults(Absent.String(), absent)

	r.logger.Info("Reconciled batch",
		"batch_index", b.Index,
		"job_id", b.JobID,
		"success", success,
		"failed", failed,
		"absent", absent,
		"skipped_records", skipped)

	return b.transition(StateReconciled)
}

func (r *Reconciler) download(ctx context.Context, b *Batch) error {
	if b.State == StateDownloaded {
		return nil
	}
	if !b.State.Terminal() {
		return fmt.Errorf("reconcile batch %d: %w: job is %s", b.Index, ErrInvalidTransition, b.State)
	}

	lines, err := r.svc.FetchOutput(ctx, b.JobID)
	if err != nil {
		return &TransportError{Op: "download", BatchIndex: b.Index, JobID: b.JobID, Err: err}
	}
	b.output = lines

	if r.runDir != nil {
		var buf bytes.Buffer
		if err := remote.EncodeOutput(&buf, lines); err == nil {
			err = writer.WriteFileAtomic(r.runDir.OutputPath(b.Index), buf.Bytes())
		}
		if err != nil {
			r.logger.Warn("Failed to cache batch output", "batch_index", b.Index, "error", err)
		}
	}

	return b.transition(StateDownloaded)
}

// completionBody is the subset of a chat-completions response the reconciler reads
type completionBody struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *models.Usage `json:"usage"`
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (r *Reconciler) resultFor(batchIndex, ordinal int, line models.OutputLine) Result {
	if line.Error != nil {
		return Result{Kind: Failed, Error: line.Error}
	}
	if line.Response == nil {
		return Result{}
	}

	if code := line.Response.StatusCode; code < 200 || code >= 300 {
		return Result{Kind: Failed, Error: responseError(code, line.Response.Body)}
	}

	text, finish, usage := extractContent(line.Response.Body)
	res := Result{Text: text, FinishReason: finish, Usage: usage}

	if !r.opts.RepairContent {
		res.Kind = Success
		return res
	}

	doc, err := repair.Repair(repair.StripThinkTags(text))
	if err != nil {
		r.metrics.IncrementRepair("unrepairable")
		r.logger.Debug("No usable document in response",
			"batch_index", batchIndex,
			"ordinal", ordinal,
			"finish_reason", finish,
			"error", err)
		return Result{FinishReason: finish, Usage: usage}
	}
	if json.Valid([]byte(strings.TrimSpace(text))) {
		r.metrics.IncrementRepair("valid")
	} else {
		r.metrics.IncrementRepair("repaired")
	}

	if r.opts.Schema != nil {
		if err := r.opts.Schema.Validate(doc.Value()); err != nil {
			res.Kind = Failed
			res.Error = &models.RequestError{Code: CodeInvalidDocument, Message: err.Error()}
			return res
		}
	}

	res.Kind = Success
	res.Document = doc
	return res
}

// extractContent returns the message content of a chat completion, or the
// raw body for responses of other endpoints
func extractContent(body json.RawMessage) (text, finishReason string, usage models.Usage) {
	var cb completionBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return string(body), "", usage
	}
	if cb.Usage != nil {
		usage = *cb.Usage
	}
	if len(cb.Choices) == 0 {
		return string(body), "", usage
	}

	choice := cb.Choices[0]
	switch {
	case choice.Message.Content != nil:
		text = *choice.Message.Content
	case choice.Message.Refusal != nil:
		text = *choice.Message.Refusal
	}
	return text, choice.FinishReason, usage
}

func responseError(statusCode int, body json.RawMessage) *models.RequestError {
	e := &models.RequestError{
		Code:    fmt.Sprintf("http_%d", statusCode),
		Message: http.StatusText(statusCode),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == nil {
		return e
	}
	if eb.Error.Message != "" {
		e.Message = eb.Error.Message
	}
	switch code := eb.Error.Code.(type) {
	case string:
		if code != "" {
			e.Code = code
		}
	case nil:
		if eb.Error.Type != "" {
			e.Code = eb.Error.Type
		}
	}
	return e
}
