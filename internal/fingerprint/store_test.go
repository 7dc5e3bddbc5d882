package fingerprint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lamim/vellumbatch/pkg/models"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	stores := map[string]Store{
		BackendFile:   fileStore,
		BackendSQLite: sqliteStore,
	}
	t.Cleanup(func() {
		for name, s := range stores {
			if err := s.Close(); err != nil {
				t.Errorf("%s Close() failed: %v", name, err)
			}
		}
	})
	return stores
}

func sampleRecord(index int) models.SubmissionRecord {
	return models.SubmissionRecord{
		RunID:        "run-1",
		BatchIndex:   index,
		Fingerprint:  Fingerprint([]byte{byte(index)}),
		JobID:        "batch_" + string(rune('a'+index)),
		FileID:       "file_" + string(rune('a'+index)),
		RequestCount: 4,
		CostSum:      8,
		CreatedAt:    time.Date(2025, 10, 30, 14, 30, 0, 123, time.UTC),
	}
}

func TestStore_LookupMissing(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Lookup(context.Background(), "run-1", 0)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_RecordAndLookup(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleRecord(2)
			if err := s.Record(ctx, want); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			got, err := s.Lookup(ctx, "run-1", 2)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if diff := cmp.Diff(want, *got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}

			if _, err := s.Lookup(ctx, "run-2", 2); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected other run to be isolated, got %v", err)
			}
		})
	}
}

func TestStore_RecordSameContentOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			first := sampleRecord(0)
			if err := s.Record(ctx, first); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			again := first
			again.JobID = "batch_other"
			if err := s.Record(ctx, again); !errors.Is(err, ErrAlreadyRecorded) {
				t.Fatalf("Expected ErrAlreadyRecorded, got %v", err)
			}

			got, err := s.Lookup(ctx, "run-1", 0)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if got.JobID != first.JobID {
				t.Errorf("Expected original job ID %s, got %s", first.JobID, got.JobID)
			}
		})
	}
}

func TestStore_RecordReplacesChangedContent(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Record(ctx, sampleRecord(0)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			changed := sampleRecord(0)
			changed.Fingerprint = Fingerprint([]byte("different"))
			changed.JobID = "batch_resubmitted"
			changed.FileID = "file_resubmitted"
			changed.RequestCount = 5
			if err := s.Record(ctx, changed); err != nil {
				t.Fatalf("Record of changed content failed: %v", err)
			}

			got, err := s.Lookup(ctx, "run-1", 0)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if diff := cmp.Diff(changed, *got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}

			records, err := s.List(ctx, "run-1")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(records) != 1 {
				t.Errorf("Expected 1 record after replacement, got %d", len(records))
			}
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, idx := range []int{10, 2, 0} {
				if err := s.Record(ctx, sampleRecord(idx)); err != nil {
					t.Fatalf("Record(%d) failed: %v", idx, err)
				}
			}

			records, err := s.List(ctx, "run-1")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var indexes []int
			for _, rec := range records {
				indexes = append(indexes, rec.BatchIndex)
			}
			if diff := cmp.Diff([]int{0, 2, 10}, indexes); diff != "" {
				t.Errorf("List order mismatch (-want +got):\n%s", diff)
			}

			empty, err := s.List(ctx, "unknown-run")
			if err != nil {
				t.Fatalf("List of unknown run failed: %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("Expected no records, got %d", len(empty))
			}
		})
	}
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Lookup(ctx, "../escape", 0); err == nil {
				t.Error("Expected traversal run ID to be rejected")
			}

			rec := sampleRecord(0)
			rec.JobID = ""
			if err := s.Record(ctx, rec); err == nil {
				t.Error("Expected record without job ID to be rejected")
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := s.Record(context.Background(), sampleRecord(3)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	path := filepath.Join(dir, "run-1", "3-metadata.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected manifest at %s: %v", path, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp manifest should not remain after write")
	}

	// Unrelated files in the run directory are ignored by List
	if err := os.WriteFile(filepath.Join(dir, "run-1", "3-output.jsonl"), []byte("{}\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	records, err := s.List(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Record(ctx, sampleRecord(1)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Lookup(ctx, "run-1", 1)
	if err != nil {
		t.Fatalf("Lookup after reopen failed: %v", err)
	}
	if got.Fingerprint != sampleRecord(1).Fingerprint {
		t.Errorf("Expected fingerprint to survive reopen")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"custom_id":"r::0::0"}`))
	b := Fingerprint([]byte(`{"custom_id":"r::0::0"}`))
	c := Fingerprint([]byte(`{"custom_id":"r::0::1"}`))

	if a != b {
		t.Error("Expected equal payloads to produce equal fingerprints")
	}
	if a == c {
		t.Error("Expected different payloads to produce different fingerprints")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(a))
	}
}

func TestOpen(t *testing.T) {
	for _, backend := range []string{"", BackendFile, BackendSQLite} {
		s, err := Open(backend, t.TempDir())
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", backend, err)
		}
		s.Close()
	}
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Error("Expected unknown backend to be rejected")
	}
}
