package writer

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateRunID_Valid(t *testing.T) {
	tests := []string{
		"questions-2025-10-30",
		"run_01",
		"A.b-c_d",
		"7f3c2a9e-1b4d-4c8e-9f00-123456789abc",
	}

	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			if err := ValidateRunID(tt); err != nil {
				t.Errorf("ValidateRunID(%q) returned unexpected error: %v", tt, err)
			}
		})
	}
}

func TestValidateRunID_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error message
	}{
		{
			name:  "empty",
			input: "",
			want:  "cannot be empty",
		},
		{
			name:  "traversal_double_dot",
			input: "../etc",
			want:  "path traversal",
		},
		{
			name:  "traversal_in_middle",
			input: "run/../etc",
			want:  "path traversal",
		},
		{
			name:  "absolute_unix",
			input: "/etc/passwd",
			want:  "must be relative",
		},
		{
			name:  "with_forward_slash",
			input: "run/2025",
			want:  "without path separators",
		},
		{
			name:  "with_backslash",
			input: "run\\2025",
			want:  "without path separators",
		},
		{
			name:  "custom_id_separator",
			input: "run::1",
			want:  "invalid run ID format",
		},
		{
			name:  "leading_dot",
			input: ".hidden",
			want:  "invalid run ID format",
		},
		{
			name:  "whitespace",
			input: "my run",
			want:  "invalid run ID format",
		},
		{
			name:  "too_long",
			input: strings.Repeat("a", 129),
			want:  "invalid run ID format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunID(tt.input)
			if err == nil {
				t.Errorf("ValidateRunID(%q) expected error containing %q, got nil", tt.input, tt.want)
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateRunID(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}

func TestRunPath(t *testing.T) {
	root := t.TempDir()

	got, err := RunPath(root, "run-1")
	if err != nil {
		t.Fatalf("RunPath failed: %v", err)
	}
	if want := filepath.Join(root, "run-1"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	if _, err := RunPath(root, "../escape"); err == nil {
		t.Error("Expected RunPath to reject traversal")
	}
}
