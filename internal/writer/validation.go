package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Run IDs become directory names and custom_id prefixes, so ':' is excluded
var runIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateRunID validates a run ID before it is used as a directory name.
// It checks for:
//   - Path traversal attempts (..)
//   - Absolute paths
//   - Path separators (a run ID must be a simple directory name)
//   - Allowed characters (letters, digits, '.', '_', '-')
//
// This prevents CWE-22 (Improper Limitation of a Pathname to a Restricted Directory)
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	if strings.Contains(runID, "..") {
		return fmt.Errorf("invalid run ID: contains '..' (path traversal attempt)")
	}

	if filepath.IsAbs(runID) {
		return fmt.Errorf("invalid run ID: must be relative path")
	}

	if strings.ContainsAny(runID, "/\\") {
		return fmt.Errorf("invalid run ID: must be directory name without path separators")
	}

	if !runIDRegex.MatchString(runID) {
		return fmt.Errorf("invalid run ID format: expected letters, digits, '.', '_' or '-', got '%s'", runID)
	}

	return nil
}

// RunPath joins storageDir and runID after validating the run ID and
// verifying the result stays inside storageDir
func RunPath(storageDir, runID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}

	absRoot, err := filepath.Abs(storageDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(storageDir, runID))
	if err != nil {
		return "", fmt.Errorf("failed to resolve run path: %w", err)
	}

	// Use separator suffix to prevent prefix attacks like "/var/image" matching "/var/image-user"
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("run path escapes storage directory")
	}

	return filepath.Join(storageDir, runID), nil
}
