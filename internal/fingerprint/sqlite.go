package fingerprint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

// ManifestDBName is the database file created inside the storage directory
const ManifestDBName = "manifest.db"

// SQLiteStore keeps all submission records in one SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) <dir>/manifest.db
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, ManifestDBName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writes serialized
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		`CREATE TABLE IF NOT EXISTS submissions (
			run_id TEXT NOT NULL,
			batch_index INTEGER NOT NULL,
			fingerprint TEXT NOT NULL,
			job_id TEXT NOT NULL,
			file_id TEXT NOT NULL DEFAULT '',
			request_count INTEGER NOT NULL,
			cost_sum INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, batch_index)
		)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize manifest database: %w", err)
		}
	}
	return nil
}

// Lookup returns the record of one batch
func (s *SQLiteStore) Lookup(ctx context.Context, runID string, batchIndex int) (*models.SubmissionRecord, error) {
	if err := writer.ValidateRunID(runID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, batch_index, fingerprint, job_id, file_id, request_count, cost_sum, created_at
		 FROM submissions WHERE run_id = ? AND batch_index = ?`, runID, batchIndex)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query submission: %w", err)
	}
	return rec, nil
}

// Record upserts a record; a stored row with the same fingerprint is left alone
func (s *SQLiteStore) Record(ctx context.Context, rec models.SubmissionRecord) error {
	if err := writer.ValidateRunID(rec.RunID); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions
		 (run_id, batch_index, fingerprint, job_id, file_id, request_count, cost_sum, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, batch_index) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			job_id = excluded.job_id,
			file_id = excluded.file_id,
			request_count = excluded.request_count,
			cost_sum = excluded.cost_sum,
			created_at = excluded.created_at
		 WHERE submissions.fingerprint <> excluded.fingerprint`,
		rec.RunID, rec.BatchIndex, rec.Fingerprint, rec.JobID, rec.FileID,
		rec.RequestCount, rec.CostSum, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read upsert result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %d of run %s: %w", rec.BatchIndex, rec.RunID, ErrAlreadyRecorded)
	}
	return nil
}

// List returns the records of a run ordered by batch index
func (s *SQLiteStore) List(ctx context.Context, runID string) ([]models.SubmissionRecord, error) {
	if err := writer.ValidateRunID(runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, batch_index, fingerprint, job_id, file_id, request_count, cost_sum, created_at
		 FROM submissions WHERE run_id = ? ORDER BY batch_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var records []models.SubmissionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.SubmissionRecord, error) {
	var (
		rec       models.SubmissionRecord
		createdAt string
	)
	if err := row.Scan(&rec.RunID, &rec.BatchIndex, &rec.Fingerprint, &rec.JobID,
		&rec.FileID, &rec.RequestCount, &rec.CostSum, &createdAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdAt))
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return &rec, nil
}
