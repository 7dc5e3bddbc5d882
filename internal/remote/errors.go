package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

// ErrUnknownJob is returned when a job ID is not known to the service
var ErrUnknownJob = errors.New("unknown job")

// APIError represents an error returned by the remote API
type APIError struct {
	Op         string
	Message    string
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: API error: %s", e.Op, e.Message)
}

// Retryable reports whether repeating the same call later may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func mapOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w: %s", op, ErrUnknownJob, apiErr.Message)
		}
		return &APIError{
			Op:         op,
			Message:    apiErr.Message,
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
