package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/vellumbatch/internal/config"
	"github.com/lamim/vellumbatch/internal/fingerprint"
	"github.com/lamim/vellumbatch/internal/writer"
)

func newManifestCmd() *cobra.Command {
	var storageDir, backend string

	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect submission records",
		Long:  "Inspect the submission records a run left in the fingerprint store",
	}

	listCmd := &cobra.Command{
		Use:   "list <run-id>",
		Short: "List the batches submitted for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listManifest(cmd.Context(), cmd.OutOrStdout(), storageDir, backend, args[0])
		},
	}
	listCmd.Flags().StringVar(&storageDir, "storage-dir", config.DefaultStorageDir, "Root of run directories")
	listCmd.Flags().StringVar(&backend, "store-backend", config.DefaultStoreBackend, "Fingerprint store backend (file or sqlite)")

	manifestCmd.AddCommand(listCmd)
	return manifestCmd
}

func listManifest(ctx context.Context, out io.Writer, storageDir, backend, runID string) error {
	// SECURITY: Validate run ID to prevent path traversal (CWE-22)
	if err := writer.ValidateRunID(runID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	if _, err := os.Stat(storageDir); os.IsNotExist(err) {
		fmt.Fprintln(out, "No storage directory found. Run a submission first.")
		return nil
	}

	store, err := fingerprint.Open(backend, storageDir)
	if err != nil {
		return fmt.Errorf("failed to open fingerprint store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list submissions: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No submissions recorded for run %s.\n", runID)
		return nil
	}

	fmt.Fprintf(out, "Submissions for run: %s\n\n", runID)
	fmt.Fprintf(out, "%-6s %-40s %-9s %-10s %-14s %s\n", "BATCH", "JOB", "REQUESTS", "COST", "FINGERPRINT", "CREATED")
	fmt.Fprintln(out, strings.Repeat("-", 100))

	totalRequests, totalCost := 0, 0
	for _, rec := range records {
		fp := rec.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		fmt.Fprintf(out, "%-6d %-40s %-9d %-10d %-14s %s\n",
			rec.BatchIndex, rec.JobID, rec.RequestCount, rec.CostSum, fp,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		totalRequests += rec.RequestCount
		totalCost += rec.CostSum
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d batches, %d requests, estimated cost %d\n", len(records), totalRequests, totalCost)
	return nil
}
