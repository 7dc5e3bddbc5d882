package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/pkg/models"
)

// Responder produces the output record for one input line. Returning false
// leaves the request without any output record.
type Responder func(line models.InputLine) (models.OutputLine, bool)

// JobPlan scripts how a submitted in-memory job progresses
type JobPlan struct {
	PollsToFinish int             // Status calls answered before the job is terminal
	Final         models.JobState // terminal state, completed when empty
	ReverseOutput bool            // return output records in reverse order
}

// Event is one call observed by the in-memory service
type Event struct {
	Op    string
	JobID string
	State models.JobState // state reported by Status
}

type memoryJob struct {
	id     string
	fileID string
	plan   JobPlan
	input  []models.InputLine
	polls  int
	output []models.OutputLine
}

func (j *memoryJob) state() models.JobState {
	if j.polls >= j.plan.PollsToFinish {
		if j.plan.Final == "" {
			return models.JobCompleted
		}
		return j.plan.Final
	}
	if j.polls == 0 {
		return models.JobQueued
	}
	return models.JobRunning
}

// Memory is an in-process Service used for dry runs and tests
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*memoryJob
	order   []string
	events  []Event
	respond Responder
	plan    func(seq int) JobPlan
}

// NewMemory creates an in-memory service. A nil responder echoes requests.
func NewMemory(respond Responder) *Memory {
	if respond == nil {
		respond = EchoResponder
	}
	return &Memory{
		jobs:    make(map[string]*memoryJob),
		respond: respond,
		plan:    func(int) JobPlan { return JobPlan{PollsToFinish: 1} },
	}
}

// SetPlan controls the progression of the seq-th submitted job (0-based)
func (m *Memory) SetPlan(plan func(seq int) JobPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = plan
}

// Submit parses the payload and registers a job
func (m *Memory) Submit(ctx context.Context, payload io.Reader, endpoint string) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read payload: %w", err)
	}

	var input []models.InputLine
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var line models.InputLine
		if err := dec.Decode(&line); err != nil {
			return SubmitResult{}, &APIError{Op: "upload input file", StatusCode: 400, Message: err.Error()}
		}
		if line.URL != endpoint {
			return SubmitResult{}, &APIError{
				Op:         "create batch",
				StatusCode: 400,
				Message:    fmt.Sprintf("line %s targets %s, batch endpoint is %s", line.CustomID, line.URL, endpoint),
			}
		}
		input = append(input, line)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job := &memoryJob{
		id:     "batch_" + uuid.NewString(),
		fileID: "file-" + uuid.NewString(),
		plan:   m.plan(len(m.order)),
		input:  input,
	}
	m.jobs[job.id] = job
	m.order = append(m.order, job.id)
	m.events = append(m.events, Event{Op: OpSubmit, JobID: job.id})

	return SubmitResult{JobID: job.id, FileID: job.fileID}, nil
}

// Status advances the job by one poll and reports its state
func (m *Memory) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.JobStatus{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return models.JobStatus{}, fmt.Errorf("retrieve batch %s: %w", jobID, ErrUnknownJob)
	}

	state := job.state()
	if !state.Terminal() {
		job.polls++
	}

	status := models.JobStatus{
		JobID:  jobID,
		State:  state,
		Counts: models.RequestCounts{Total: len(job.input)},
	}
	if state.Terminal() {
		m.materialize(job)
		for _, line := range job.output {
			if line.Error != nil {
				status.Counts.Failed++
			} else {
				status.Counts.Completed++
			}
		}
	}

	m.events = append(m.events, Event{Op: OpStatus, JobID: jobID, State: state})
	return status, nil
}

// FetchOutput returns the output records of a terminal job
func (m *Memory) FetchOutput(ctx context.Context, jobID string) ([]models.OutputLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("retrieve batch %s: %w", jobID, ErrUnknownJob)
	}
	if !job.state().Terminal() {
		return nil, &APIError{Op: "download file", StatusCode: 409, Message: "batch " + jobID + " is not finished"}
	}

	m.materialize(job)
	m.events = append(m.events, Event{Op: OpFetch, JobID: jobID})

	out := make([]models.OutputLine, len(job.output))
	copy(out, job.output)
	return out, nil
}

// Events returns the calls observed so far
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// JobIDs returns job IDs in submission order
func (m *Memory) JobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// materialize computes output once; must be called with m.mu held
func (m *Memory) materialize(job *memoryJob) {
	if job.output != nil {
		return
	}
	job.output = make([]models.OutputLine, 0, len(job.input))
	for _, line := range job.input {
		out, ok := m.respond(line)
		if !ok {
			continue
		}
		if out.CustomID == "" {
			out.CustomID = line.CustomID
		}
		if out.ID == "" {
			out.ID = "batch_req_" + uuid.NewString()
		}
		job.output = append(job.output, out)
	}
	if job.plan.ReverseOutput {
		for i, j := 0, len(job.output)-1; i < j; i, j = i+1, j-1 {
			job.output[i], job.output[j] = job.output[j], job.output[i]
		}
	}
}

// EchoResponder answers every chat request with its last message content.
// Bodies without messages are echoed verbatim.
func EchoResponder(line models.InputLine) (models.OutputLine, bool) {
	content := string(line.Body)

	var chat struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(line.Body, &chat); err == nil && len(chat.Messages) > 0 {
		last := chat.Messages[len(chat.Messages)-1].Content
		var s string
		if err := json.Unmarshal(last, &s); err == nil {
			content = s
		} else {
			content = string(last)
		}
	}

	prompt := cost.EstimateTextTokens(string(line.Body))
	completion := cost.EstimateTextTokens(content)
	return ChatCompletionOutput(line.CustomID, content, "stop", models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}), true
}

// ChatCompletionOutput builds a successful chat-completions output record
func ChatCompletionOutput(customID, content, finishReason string, usage models.Usage) models.OutputLine {
	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-" + uuid.NewString(),
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finishReason,
		}},
		"usage": usage,
	})
	return models.OutputLine{
		CustomID: customID,
		Response: &models.OutputResponse{
			StatusCode: 200,
			RequestID:  uuid.NewString(),
			Body:       body,
		},
	}
}

// ErrorOutput builds a per-request error record
func ErrorOutput(customID, code, message string) models.OutputLine {
	return models.OutputLine{
		CustomID: customID,
		Error:    &models.RequestError{Code: code, Message: message},
	}
}
