package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrResultAlreadySet is returned when an ordinal receives a second result
	ErrResultAlreadySet = errors.New("result already set")
	// ErrInvalidTransition is returned for a state change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid batch state transition")
)

// TransportError reports a failed exchange with the remote service or the
// fingerprint store. The run can be restarted with the same run ID.
type TransportError struct {
	Op         string
	BatchIndex int
	JobID      string
	Err        error
}

func (e *TransportError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s batch %d (job %s): %v", e.Op, e.BatchIndex, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s batch %d: %v", e.Op, e.BatchIndex, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
