package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/lamim/vellumbatch/pkg/models"
)

func TestCustomID_RoundTrip(t *testing.T) {
	id := CustomID("run-1", 3, 42)
	if id != "run-1::3::42" {
		t.Errorf("Expected run-1::3::42, got %s", id)
	}

	runID, batchIndex, ordinal, err := ParseCustomID(id)
	if err != nil {
		t.Fatalf("ParseCustomID failed: %v", err)
	}
	if runID != "run-1" || batchIndex != 3 || ordinal != 42 {
		t.Errorf("Expected (run-1, 3, 42), got (%s, %d, %d)", runID, batchIndex, ordinal)
	}
}

func TestParseCustomID_Malformed(t *testing.T) {
	for _, id := range []string{
		"",
		"run-1",
		"run-1::3",
		"::3::4",
		"run-1::x::4",
		"run-1::3::y",
		"run-1::-1::4",
		"run-1::3::-4",
		"run-1::3::4::5",
	} {
		if _, _, _, err := ParseCustomID(id); err == nil {
			t.Errorf("Expected error for %q", id)
		}
	}
}

func TestBuildPayload(t *testing.T) {
	b := &Batch{
		Index: 2,
		Requests: []models.Request{
			{Ordinal: 5, Body: json.RawMessage(`{ "messages" : [ {"role":"user", "content":"a<b"} ] }`)},
			{Ordinal: 6, Body: json.RawMessage(`{"messages":[{"role":"user","content":"c"}]}`)},
		},
	}

	payload, err := BuildPayload("run-1", "/v1/chat/completions", b)
	if err != nil {
		t.Fatalf("BuildPayload failed: %v", err)
	}

	again, err := BuildPayload("run-1", "/v1/chat/completions", b)
	if err != nil {
		t.Fatalf("BuildPayload failed: %v", err)
	}
	if !bytes.Equal(payload, again) {
		t.Error("Expected identical payloads for identical input")
	}

	var lines []models.InputLine
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		var line models.InputLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("Invalid payload line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}

	first := lines[0]
	if first.CustomID != "run-1::2::5" {
		t.Errorf("Expected custom_id run-1::2::5, got %s", first.CustomID)
	}
	if first.Method != "POST" || first.URL != "/v1/chat/completions" {
		t.Errorf("Unexpected method/url: %s %s", first.Method, first.URL)
	}
	if string(first.Body) != `{"messages":[{"role":"user","content":"a<b"}]}` {
		t.Errorf("Expected compacted body, got %s", first.Body)
	}
	if lines[1].CustomID != "run-1::2::6" {
		t.Errorf("Expected custom_id run-1::2::6, got %s", lines[1].CustomID)
	}
}

func TestBuildPayload_InvalidBody(t *testing.T) {
	for _, body := range []string{"", "{not json"} {
		b := &Batch{Requests: []models.Request{{Ordinal: 0, Body: json.RawMessage(body)}}}
		if _, err := BuildPayload("run-1", "/v1/chat/completions", b); err == nil {
			t.Errorf("Expected error for body %q", body)
		}
	}
}
