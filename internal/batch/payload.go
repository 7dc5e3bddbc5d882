package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lamim/vellumbatch/pkg/models"
)

const customIDSeparator = "::"

// CustomID tags a request so its output can be routed back to its ordinal
func CustomID(runID string, batchIndex, ordinal int) string {
	return runID + customIDSeparator + strconv.Itoa(batchIndex) + customIDSeparator + strconv.Itoa(ordinal)
}

// ParseCustomID splits a tag produced by CustomID
func ParseCustomID(id string) (runID string, batchIndex, ordinal int, err error) {
	parts := strings.Split(id, customIDSeparator)
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, 0, fmt.Errorf("malformed custom_id %q", id)
	}
	if batchIndex, err = strconv.Atoi(parts[1]); err != nil || batchIndex < 0 {
		return "", 0, 0, fmt.Errorf("malformed batch index in custom_id %q", id)
	}
	if ordinal, err = strconv.Atoi(parts[2]); err != nil || ordinal < 0 {
		return "", 0, 0, fmt.Errorf("malformed ordinal in custom_id %q", id)
	}
	return parts[0], batchIndex, ordinal, nil
}

// BuildPayload serializes a batch as newline-delimited upload records.
// The output is deterministic for identical inputs.
func BuildPayload(runID, endpoint string, b *Batch) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, req := range b.Requests {
		body, err := compactBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", req.Ordinal, err)
		}
		line := models.InputLine{
			CustomID: CustomID(runID, b.Index, req.Ordinal),
			Method:   http.MethodPost,
			URL:      endpoint,
			Body:     body,
		}
		if err := enc.Encode(&line); err != nil {
			return nil, fmt.Errorf("failed to encode request %d: %w", req.Ordinal, err)
		}
	}
	return buf.Bytes(), nil
}

func compactBody(body json.RawMessage) (json.RawMessage, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return buf.Bytes(), nil
}
