package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/pkg/models"
)

const maxRequestLine = 16 * 1024 * 1024

// requestEnvelope is the optional wrapped form of an input line
type requestEnvelope struct {
	Body json.RawMessage `json:"body"`
	Cost *int            `json:"cost"`
}

// ReadRequests reads one request per non-blank JSONL line and numbers them in
// order. A line is either a bare request body or {"body": ..., "cost": n};
// without an explicit cost the cost is estimated from the body.
func ReadRequests(r io.Reader) ([]models.Request, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)

	var reqs []models.Request
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) || raw[0] != '{' {
			return nil, fmt.Errorf("line %d: request must be a JSON object", lineNum)
		}

		body := json.RawMessage(append([]byte(nil), raw...))
		var env requestEnvelope
		if isOnlyEnvelope(raw) {
			if err := json.Unmarshal(raw, &env); err != nil {
				return nil, fmt.Errorf("line %d: invalid request envelope: %w", lineNum, err)
			}
			if len(env.Body) == 0 || env.Body[0] != '{' {
				return nil, fmt.Errorf("line %d: request envelope needs an object body", lineNum)
			}
			body = env.Body
		}

		var c int
		if env.Cost != nil {
			if *env.Cost < 0 {
				return nil, fmt.Errorf("line %d: cost must not be negative", lineNum)
			}
			c = *env.Cost
		} else {
			estimated, err := cost.EstimateRequest(body)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			c = estimated
		}

		reqs = append(reqs, models.Request{Ordinal: len(reqs), Body: body, Cost: c})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return reqs, nil
}

// isOnlyEnvelope reports whether an object has a body key and no keys besides body and cost
func isOnlyEnvelope(raw []byte) bool {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return false
	}
	if _, ok := keys["body"]; !ok {
		return false
	}
	for k := range keys {
		if k != "body" && k != "cost" {
			return false
		}
	}
	return true
}
