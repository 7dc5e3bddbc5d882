package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

const metadataSuffix = "-metadata.json"

// FileStore keeps one JSON manifest per batch at
// <root>/<run_id>/<index>-metadata.json
type FileStore struct {
	root string
	mu   sync.Mutex // serializes read-before-write within this process
}

// NewFileStore creates a file-backed store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// MetadataPath returns the manifest path for a batch
func (s *FileStore) MetadataPath(runID string, batchIndex int) (string, error) {
	runDir, err := writer.RunPath(s.root, runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(runDir, strconv.Itoa(batchIndex)+metadataSuffix), nil
}

// Lookup reads the manifest for a batch
func (s *FileStore) Lookup(_ context.Context, runID string, batchIndex int) (*models.SubmissionRecord, error) {
	path, err := s.MetadataPath(runID, batchIndex)
	if err != nil {
		return nil, err
	}
	return readRecord(path)
}

// Record writes the manifest atomically. A manifest for the same content is
// never replaced.
func (s *FileStore) Record(_ context.Context, rec models.SubmissionRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	path, err := s.MetadataPath(rec.RunID, rec.BatchIndex)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readRecord(path)
	switch {
	case err == nil && existing.Fingerprint == rec.Fingerprint:
		return fmt.Errorf("batch %d of run %s: %w", rec.BatchIndex, rec.RunID, ErrAlreadyRecorded)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submission record: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// List reads every manifest of a run
func (s *FileStore) List(_ context.Context, runID string) ([]models.SubmissionRecord, error) {
	runDir, err := writer.RunPath(s.root, runID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(runDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var records []models.SubmissionRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metadataSuffix) {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSuffix(name, metadataSuffix)); err != nil {
			continue
		}
		rec, err := readRecord(filepath.Join(runDir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].BatchIndex < records[j].BatchIndex
	})
	return records, nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}

func readRecord(path string) (*models.SubmissionRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var rec models.SubmissionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest %s: %w", path, err)
	}
	return &rec, nil
}
