package models

import "encoding/json"

// Request is one independent inference request inside a submission
type Request struct {
	Ordinal int             `json:"ordinal"` // 0-based position across the whole submission
	Body    json.RawMessage `json:"body"`    // Opaque payload sent as the request body
	Cost    int             `json:"cost"`    // Estimated cost (tokens), used only for partitioning
}

// InputLine is a single line of an upload payload
type InputLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// OutputLine is a single line of a downloaded job output
type OutputLine struct {
	ID       string          `json:"id,omitempty"`
	CustomID string          `json:"custom_id"`
	Response *OutputResponse `json:"response"`
	Error    *RequestError   `json:"error"`
}

// OutputResponse wraps the HTTP response the remote service produced for one request
type OutputResponse struct {
	StatusCode int             `json:"status_code"`
	RequestID  string          `json:"request_id,omitempty"`
	Body       json.RawMessage `json:"body"`
}

// RequestError is a per-request failure reported by the remote service
type RequestError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Usage is the token accounting attached to a completion body
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResultRecord is one line of a reconciled results file
type ResultRecord struct {
	Ordinal      int             `json:"ordinal"`
	CustomID     string          `json:"custom_id"`
	Kind         string          `json:"kind"` // "success", "failed" or "absent"
	Document     json.RawMessage `json:"document,omitempty"`
	Text         string          `json:"text,omitempty"` // raw content when no document was parsed
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Error        *RequestError   `json:"error,omitempty"`
}
