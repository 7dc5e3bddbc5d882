package batch

import (
	"fmt"

	"github.com/lamim/vellumbatch/pkg/models"
)

// State is the client-side lifecycle position of a batch
type State string

const (
	StateAccumulating State = "accumulating"
	StateSealed       State = "sealed"
	StateSubmitted    State = "submitted"
	StatePolling      State = "polling"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateExpired      State = "expired"
	StateCancelled    State = "cancelled"
	StateDownloaded   State = "downloaded"
	StateReconciled   State = "reconciled"
)

var transitions = map[State][]State{
	StateAccumulating: {StateSealed},
	StateSealed:       {StateSubmitted},
	StateSubmitted:    {StatePolling, StateCompleted, StateFailed, StateExpired, StateCancelled, StateDownloaded},
	StatePolling:      {StatePolling, StateCompleted, StateFailed, StateExpired, StateCancelled},
	StateCompleted:    {StateDownloaded},
	StateFailed:       {StateDownloaded},
	StateExpired:      {StateDownloaded},
	StateCancelled:    {StateDownloaded},
	StateDownloaded:   {StateReconciled},
}

// Terminal reports whether the remote job behind the batch has finished
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired, StateCancelled, StateDownloaded, StateReconciled:
		return true
	}
	return false
}

// Batch is a contiguous run of requests submitted as one remote job
type Batch struct {
	Index       int
	Requests    []models.Request
	Cost        int
	SealReason  SealReason
	Fingerprint string
	State       State
	JobID       string
	FileID      string
	Status      models.JobStatus // last polled status
	Reused      bool             // job ID came from the fingerprint store

	payload []byte
	output  []models.OutputLine // cached or downloaded output records
}

func (b *Batch) transition(to State) error {
	for _, allowed := range transitions[b.State] {
		if allowed == to {
			b.State = to
			return nil
		}
	}
	return fmt.Errorf("batch %d: %s -> %s: %w", b.Index, b.State, to, ErrInvalidTransition)
}

// observe moves the batch to the client state matching a polled job state
func (b *Batch) observe(status models.JobStatus) error {
	b.Status = status

	var to State
	switch status.State {
	case models.JobCompleted:
		to = StateCompleted
	case models.JobFailed:
		to = StateFailed
	case models.JobExpired:
		to = StateExpired
	case models.JobCancelled:
		to = StateCancelled
	default:
		to = StatePolling
	}
	return b.transition(to)
}

// Ordinals returns the request ordinals in the batch
func (b *Batch) Ordinals() []int {
	out := make([]int, len(b.Requests))
	for i, r := range b.Requests {
		out[i] = r.Ordinal
	}
	return out
}
