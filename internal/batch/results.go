package batch

import (
	"encoding/json"
	"fmt"

	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/internal/repair"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Kind classifies the outcome of one request
type Kind int

const (
	// Absent means no usable output exists; it is the zero value
	Absent Kind = iota
	Success
	Failed
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return "absent"
}

// Result is the reconciled outcome of one request
type Result struct {
	Kind         Kind
	Document     *repair.Document // repaired payload, nil when repair is disabled
	Text         string           // textual payload as returned by the service
	FinishReason string
	Usage        models.Usage
	Error        *models.RequestError // set for Failed
}

// Results holds one slot per request ordinal
type Results struct {
	runID   string
	batchOf []int // batch index per ordinal, for custom IDs in exported records
	items   []Result
	set     []bool

	discarded models.Usage // usage billed for responses that yielded no result
}

// NewResults creates n absent results
func NewResults(runID string, n int) *Results {
	return &Results{
		runID:   runID,
		batchOf: make([]int, n),
		items:   make([]Result, n),
		set:     make([]bool, n),
	}
}

// Len returns the number of ordinals
func (r *Results) Len() int {
	return len(r.items)
}

// Get returns the result for an ordinal; out-of-range ordinals are absent
func (r *Results) Get(ordinal int) Result {
	if ordinal < 0 || ordinal >= len(r.items) {
		return Result{}
	}
	return r.items[ordinal]
}

// Set stores the result for an ordinal. Each ordinal accepts one result.
func (r *Results) Set(ordinal int, res Result) error {
	if ordinal < 0 || ordinal >= len(r.items) {
		return fmt.Errorf("ordinal %d out of range [0, %d)", ordinal, len(r.items))
	}
	if res.Kind == Absent {
		return fmt.Errorf("ordinal %d: cannot set an absent result", ordinal)
	}
	if r.set[ordinal] {
		return fmt.Errorf("ordinal %d: %w", ordinal, ErrResultAlreadySet)
	}
	r.items[ordinal] = res
	r.set[ordinal] = true
	return nil
}

func (r *Results) assign(b *Batch) {
	for _, req := range b.Requests {
		if req.Ordinal >= 0 && req.Ordinal < len(r.batchOf) {
			r.batchOf[req.Ordinal] = b.Index
		}
	}
}

// Summary aggregates outcome counts and token usage
type Summary struct {
	Requests int
	Success  int
	Failed   int
	Absent   int
	Usage    models.Usage
	Cost     cost.Breakdown
}

// Summarize counts outcomes and prices the recorded usage
func (r *Results) Summarize(pricing cost.Pricing) Summary {
	s := Summary{Requests: len(r.items)}
	for _, res := range r.items {
		switch res.Kind {
		case Success:
			s.Success++
		case Failed:
			s.Failed++
		default:
			s.Absent++
		}
		s.Usage.Add(res.Usage)
	}
	s.Usage.Add(r.discarded)
	s.Cost = pricing.Price(s.Usage)
	return s
}

// Records exports the results in ordinal order
func (r *Results) Records() ([]models.ResultRecord, error) {
	out := make([]models.ResultRecord, len(r.items))
	for i, res := range r.items {
		rec := models.ResultRecord{
			Ordinal:      i,
			CustomID:     CustomID(r.runID, r.batchOf[i], i),
			Kind:         res.Kind.String(),
			FinishReason: res.FinishReason,
			Error:        res.Error,
		}
		if res.Usage != (models.Usage{}) {
			usage := res.Usage
			rec.Usage = &usage
		}
		switch {
		case res.Document != nil:
			data, err := json.Marshal(res.Document)
			if err != nil {
				return nil, fmt.Errorf("ordinal %d: failed to encode document: %w", i, err)
			}
			rec.Document = data
		case res.Kind != Absent:
			rec.Text = res.Text
		}
		out[i] = rec
	}
	return out, nil
}
