// Package fingerprint persists one submission record per (run ID, batch
// index) so that a restarted run can recognise batches it already submitted.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lamim/vellumbatch/pkg/models"
)

var (
	// ErrNotFound is returned by Lookup when no record exists
	ErrNotFound = errors.New("submission record not found")
	// ErrAlreadyRecorded is returned by Record when the batch index already
	// has a record with the same fingerprint
	ErrAlreadyRecorded = errors.New("submission already recorded")
)

// Store is durable storage for submission records.
// Implementations support a single writer per run ID.
type Store interface {
	Lookup(ctx context.Context, runID string, batchIndex int) (*models.SubmissionRecord, error)
	// Record stores rec, replacing a record of the same batch whose
	// fingerprint differs
	Record(ctx context.Context, rec models.SubmissionRecord) error
	// List returns all records of a run ordered by batch index
	List(ctx context.Context, runID string) ([]models.SubmissionRecord, error)
	Close() error
}

// Fingerprint returns the hex SHA-256 digest of an upload payload
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for the named backend rooted at storageDir
func Open(backend, storageDir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(storageDir)
	case BackendSQLite:
		return NewSQLiteStore(storageDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func validateRecord(rec models.SubmissionRecord) error {
	if rec.BatchIndex < 0 {
		return fmt.Errorf("batch index must be non-negative, got %d", rec.BatchIndex)
	}
	if rec.Fingerprint == "" {
		return fmt.Errorf("record for batch %d has no fingerprint", rec.BatchIndex)
	}
	if rec.JobID == "" {
		return fmt.Errorf("record for batch %d has no job ID", rec.BatchIndex)
	}
	return nil
}
