package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/lamim/vellumbatch/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const samplePayload = `{"custom_id":"run::0::0","method":"POST","url":"/v1/chat/completions","body":{"model":"m","messages":[{"role":"user","content":"hi"}]}}
`

func newBatchServer(t *testing.T, status string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header 'Bearer test-key', got '%s'", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart upload: %v", err)
			return
		}
		if got := r.FormValue("purpose"); got != "batch" {
			t.Errorf("Expected purpose 'batch', got '%s'", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != samplePayload {
			t.Errorf("Uploaded payload mismatch: %q", data)
		}
		if header.Filename != "batch.jsonl" {
			t.Errorf("Expected filename batch.jsonl, got %s", header.Filename)
		}
		_, _ = w.Write([]byte(`{"id":"file-in","object":"file","bytes":120,"created_at":1,"filename":"batch.jsonl","purpose":"batch","status":"processed"}`))
	})
	mux.HandleFunc("POST /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode batch request: %v", err)
			return
		}
		if req["input_file_id"] != "file-in" {
			t.Errorf("Expected input_file_id file-in, got %v", req["input_file_id"])
		}
		if req["endpoint"] != "/v1/chat/completions" {
			t.Errorf("Expected endpoint /v1/chat/completions, got %v", req["endpoint"])
		}
		if req["completion_window"] != "24h" {
			t.Errorf("Expected completion_window 24h, got %v", req["completion_window"])
		}
		writeBatch(w, "batch_1", "validating")
	})
	mux.HandleFunc("GET /v1/batches/batch_1", func(w http.ResponseWriter, r *http.Request) {
		writeBatch(w, "batch_1", status)
	})
	mux.HandleFunc("GET /v1/batches/batch_missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No batch found","type":"invalid_request_error","code":null}}`))
	})
	mux.HandleFunc("GET /v1/batches/batch_broken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error","code":null}}`))
	})
	mux.HandleFunc("GET /v1/files/file-out/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(
			`{"id":"req_1","custom_id":"run::0::0","response":{"status_code":200,"request_id":"r1","body":{"choices":[{"message":{"content":"{\"a\":1}"}}]}},"error":null}` + "\n" +
				"not json\n\n"))
	})
	mux.HandleFunc("GET /v1/files/file-err/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"req_2","custom_id":"run::0::1","response":null,"error":{"code":"server_error","message":"failed"}}` + "\n"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeBatch(w http.ResponseWriter, id, status string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{
		"id": "` + id + `",
		"object": "batch",
		"endpoint": "/v1/chat/completions",
		"input_file_id": "file-in",
		"completion_window": "24h",
		"status": "` + status + `",
		"output_file_id": "file-out",
		"error_file_id": "file-err",
		"created_at": 1,
		"request_counts": {"total": 2, "completed": 1, "failed": 1}
	}`))
}

func newTestOpenAI(serverURL string) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    serverURL + "/v1/",
		MaxRetries: 0,
	}, testLogger())
}

func TestOpenAI_Submit(t *testing.T) {
	server := newBatchServer(t, "in_progress")
	svc := newTestOpenAI(server.URL)

	res, err := svc.Submit(context.Background(), strings.NewReader(samplePayload), "/v1/chat/completions")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.JobID != "batch_1" || res.FileID != "file-in" {
		t.Errorf("Expected batch_1/file-in, got %s/%s", res.JobID, res.FileID)
	}
}

func TestOpenAI_Status(t *testing.T) {
	tests := []struct {
		remote string
		want   models.JobState
	}{
		{"validating", models.JobQueued},
		{"in_progress", models.JobRunning},
		{"finalizing", models.JobFinalizing},
		{"completed", models.JobCompleted},
		{"expired", models.JobExpired},
		{"cancelled", models.JobCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			server := newBatchServer(t, tt.remote)
			svc := newTestOpenAI(server.URL)

			status, err := svc.Status(context.Background(), "batch_1")
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("Expected state %s, got %s", tt.want, status.State)
			}
			if status.Counts != (models.RequestCounts{Total: 2, Completed: 1, Failed: 1}) {
				t.Errorf("Unexpected counts: %+v", status.Counts)
			}
		})
	}
}

func TestOpenAI_StatusErrors(t *testing.T) {
	server := newBatchServer(t, "completed")
	svc := newTestOpenAI(server.URL)

	_, err := svc.Status(context.Background(), "batch_missing")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}

	_, err = svc.Status(context.Background(), "batch_broken")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", apiErr.StatusCode)
	}
	if !apiErr.Retryable() {
		t.Error("Expected 500 to be retryable")
	}
}

func TestOpenAI_FetchOutput(t *testing.T) {
	server := newBatchServer(t, "completed")
	svc := newTestOpenAI(server.URL)

	lines, err := svc.FetchOutput(context.Background(), "batch_1")
	if err != nil {
		t.Fatalf("FetchOutput failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 records (malformed line skipped), got %d", len(lines))
	}
	if lines[0].CustomID != "run::0::0" || lines[0].Response == nil || lines[0].Response.StatusCode != 200 {
		t.Errorf("Unexpected output record: %+v", lines[0])
	}
	if lines[1].Error == nil || lines[1].Error.Code != "server_error" {
		t.Errorf("Expected error record, got %+v", lines[1])
	}
}

func TestDecodeOutput(t *testing.T) {
	input := strings.Join([]string{
		`{"custom_id":"a::0::0","response":{"status_code":200,"body":{}},"error":null}`,
		``,
		`{"custom_id":"","response":null,"error":null}`,
		`{"truncated":`,
		`{"custom_id":"a::0::1","response":null,"error":{"message":"x"}}`,
	}, "\n")

	lines, skipped, err := DecodeOutput(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeOutput failed: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("Expected 2 records, got %d", len(lines))
	}
	if skipped != 2 {
		t.Errorf("Expected 2 skipped lines, got %d", skipped)
	}

	var sb strings.Builder
	if err := EncodeOutput(&sb, lines); err != nil {
		t.Fatalf("EncodeOutput failed: %v", err)
	}
	again, _, err := DecodeOutput(strings.NewReader(sb.String()))
	if err != nil || len(again) != 2 {
		t.Errorf("Expected re-decoded output to keep 2 records, got %d (%v)", len(again), err)
	}
}
