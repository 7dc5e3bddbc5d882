package repair

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid object unchanged",
			input: `{"a": 1}`,
			want:  `{"a":1}`,
		},
		{
			name:  "dangling key without value",
			input: `{"a": 1, "b":`,
			want:  `{"a":1}`,
		},
		{
			name:  "trailing separator in array",
			input: `[1, 2, 3,`,
			want:  `[1,2,3]`,
		},
		{
			name:  "value cut mid-string is discarded with its key",
			input: `{"a": "hello wor`,
			want:  `{}`,
		},
		{
			name:  "unfinished key",
			input: `{"a": 1, "b`,
			want:  `{"a":1}`,
		},
		{
			name:  "complete key awaiting colon",
			input: `{"a": 1, "b"`,
			want:  `{"a":1}`,
		},
		{
			name:  "trailing separator in object",
			input: `{"field1": "value1", "field2": "value2",`,
			want:  `{"field1":"value1","field2":"value2"}`,
		},
		{
			name:  "missing closing brace only",
			input: `{"field1": "value1", "field2": "value2"`,
			want:  `{"field1":"value1","field2":"value2"}`,
		},
		{
			name:  "array cut inside string element",
			input: `["alpha", "beta", "gam`,
			want:  `["alpha","beta"]`,
		},
		{
			name:  "nested judge response",
			input: `{"plot": {"score": 3, "reasoning": "Good"}, "character": {"score": 2`,
			want:  `{"plot":{"score":3,"reasoning":"Good"},"character":{"score":2}}`,
		},
		{
			name:  "nested object emptied by pruning is dropped",
			input: `{"a": [1, {"b": `,
			want:  `{"a":[1]}`,
		},
		{
			name:  "just opened object inside array",
			input: `[{"x": 1}, {`,
			want:  `[{"x":1}]`,
		},
		{
			name:  "just opened array",
			input: `{"a": 1, "list": [`,
			want:  `{"a":1}`,
		},
		{
			name:  "empty object is not mistaken for open context",
			input: `[{}, {"a": 1`,
			want:  `[{},{"a":1}]`,
		},
		{
			name:  "partial literal dropped",
			input: `{"ok": 1, "flag": tr`,
			want:  `{"ok":1}`,
		},
		{
			name:  "only member cut inside a literal",
			input: `{"a": tru`,
			want:  `{}`,
		},
		{
			name:  "partial exponent dropped",
			input: `[1, 2, 3e`,
			want:  `[1,2]`,
		},
		{
			name:  "escaped quote inside cut string",
			input: `{"a": "x", "b": "say \"hi\" to`,
			want:  `{"a":"x"}`,
		},
		{
			name:  "dangling backslash",
			input: `{"a": "x", "b": "c:\`,
			want:  `{"a":"x"}`,
		},
		{
			name:  "partial unicode escape",
			input: `{"a": "x", "b": "caf\u00`,
			want:  `{"a":"x"}`,
		},
		{
			name:  "markdown fenced and truncated",
			input: "```json\n{\"a\": [1, 2",
			want:  `{"a":[1,2]}`,
		},
		{
			name:  "markdown fenced complete",
			input: "```json\n{\"a\": true}\n```",
			want:  `{"a":true}`,
		},
		{
			name:  "raw newline inside string",
			input: "{\"text\": \"line one\nline two\"}",
			want:  `{"text":"line one\nline two"}`,
		},
		{
			name:  "key order preserved",
			input: `{"z": 1, "a": 2, "m": 3`,
			want:  `{"z":1,"a":2,"m":3}`,
		},
		{
			name:  "top-level scalar",
			input: `42`,
			want:  `42`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Repair(tt.input)
			if err != nil {
				t.Fatalf("Repair(%q) error: %v", tt.input, err)
			}
			if got := doc.String(); got != tt.want {
				t.Errorf("Repair(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepair_Absent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: ErrEmptyInput},
		{name: "whitespace", input: " \n\t ", wantErr: ErrEmptyInput},
		{name: "fence only", input: "```json", wantErr: ErrEmptyInput},
		{name: "cut top-level string", input: `"hello`, wantErr: ErrUnrepairable},
		{name: "bare partial literal", input: `tru`, wantErr: ErrUnrepairable},
		{name: "extra closer", input: `{"a": 1}}`, wantErr: ErrUnrepairable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Repair(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Repair(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if doc != nil {
				t.Errorf("Repair(%q) returned document %s, want none", tt.input, doc)
			}
		})
	}
}

func TestRepair_Idempotent(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b":`,
		`[1, 2, 3,`,
		`{"a": "hello wor`,
		`{"items": [{"name": "x", "tags": ["p", "q"]}, {"name": "y", "tags": ["r`,
		`{"html": "<b>&amp;</b>", "n": 1.50`,
		`{"unicode": "caf\u00e9 \ud83d\ude00", "more": [`,
	}

	for _, input := range inputs {
		first, err := Repair(input)
		if err != nil {
			t.Fatalf("Repair(%q) error: %v", input, err)
		}
		second, err := Repair(first.String())
		if err != nil {
			t.Fatalf("Repair(Repair(%q)) error: %v", input, err)
		}
		if diff := cmp.Diff(first.String(), second.String()); diff != "" {
			t.Errorf("repair not idempotent for %q (-first +second):\n%s", input, diff)
		}
	}
}

func TestRepair_NeverFabricatesVisibleData(t *testing.T) {
	full := `{"title": "Mount Everest", "height": {"value": 8849, "unit": "m"}, "tags": ["mountain", "asia"], "note": "tallest above sea level"}`

	for cut := 1; cut <= len(full); cut++ {
		doc, err := Repair(full[:cut])
		if err != nil {
			continue
		}
		var got any
		if err := doc.Decode(&got); err != nil {
			t.Fatalf("cut %d: decode repaired document: %v", cut, err)
		}
		assertNoPlaceholder(t, cut, got)
	}
}

func assertNoPlaceholder(t *testing.T, cut int, v any) {
	t.Helper()
	switch val := v.(type) {
	case string:
		if containsPlaceholder(val) {
			t.Errorf("cut %d: synthesized string %q leaked into result", cut, val)
		}
	case []any:
		for _, item := range val {
			assertNoPlaceholder(t, cut, item)
		}
	case map[string]any:
		for k, item := range val {
			if containsPlaceholder(k) {
				t.Errorf("cut %d: synthesized key %q leaked into result", cut, k)
			}
			assertNoPlaceholder(t, cut, item)
		}
	}
}

func containsPlaceholder(s string) bool {
	for _, r := range s {
		if r == '\ue000' {
			return true
		}
	}
	return false
}

func TestRepairSequence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "complete stream",
			input: `{"a": 1}{"b": 2}`,
			want:  `[{"a":1},{"b":2}]`,
		},
		{
			name:  "jsonl cut mid-record",
			input: "{\"q\": \"one\"}\n{\"q\": \"two\"}\n{\"q\": \"thr",
			want:  `[{"q":"one"},{"q":"two"}]`,
		},
		{
			name:  "cut after value keeps partial record",
			input: `{"a": 1}{"b": 2, "c": 3`,
			want:  `[{"a":1},{"b":2,"c":3}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := RepairSequence(tt.input)
			if err != nil {
				t.Fatalf("RepairSequence(%q) error: %v", tt.input, err)
			}
			if got := doc.String(); got != tt.want {
				t.Errorf("RepairSequence(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDocument_Value(t *testing.T) {
	doc, err := Repair(`{"name": "x", "count": 3, "ok": true, "none": null, "list": [1, "two"`)
	if err != nil {
		t.Fatalf("Repair error: %v", err)
	}

	want := map[string]any{
		"name":  "x",
		"count": json.Number("3"),
		"ok":    true,
		"none":  nil,
		"list":  []any{json.Number("1"), "two"},
	}
	if diff := cmp.Diff(want, doc.Value()); diff != "" {
		t.Errorf("Value() mismatch (-want +got):\n%s", diff)
	}

	var decoded struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := doc.Decode(&decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if decoded.Name != "x" || decoded.Count != 3 {
		t.Errorf("Decode = %+v, want name=x count=3", decoded)
	}
}

func TestDocument_JSONRoundTrip(t *testing.T) {
	var doc Document
	if err := json.Unmarshal([]byte(`{"b": [1, {"c": null}], "a": "<tag>"}`), &doc); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	out, err := json.Marshal(&doc)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if got, want := string(out), `{"b":[1,{"c":null}],"a":"<tag>"}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestStripThinkTags(t *testing.T) {
	got := StripThinkTags("<think>\nlet me see\n</think>\n{\"a\": 1}")
	if got != `{"a": 1}` {
		t.Errorf("StripThinkTags = %q", got)
	}
	if got := StripThinkTags(`{"a": "<think>kept</think>"}`); got != `{"a": "<think>kept</think>"}` {
		t.Errorf("StripThinkTags touched embedded tag: %q", got)
	}
}
