package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamim/vellumbatch/internal/batch"
	"github.com/lamim/vellumbatch/internal/config"
	"github.com/lamim/vellumbatch/internal/fingerprint"
	"github.com/lamim/vellumbatch/internal/metrics"
	"github.com/lamim/vellumbatch/internal/remote"
	"github.com/lamim/vellumbatch/internal/writer"
	"github.com/lamim/vellumbatch/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// dryRunPollInterval replaces the configured interval for the in-memory service
const dryRunPollInterval = 10 * time.Millisecond

var (
	configPath string
	envFile    string
	inputPath  string
	dryRun     bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vellumbatch",
		Short: "vellumbatch - resumable bulk inference over batch APIs",
		Long: `vellumbatch submits large request sets to an asynchronous batch
inference service, waits for the jobs, and reconciles the output back into
request order. Reusing a run ID resumes the run without resubmitting work.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit requests and collect results",
		Long: `Run the batch pipeline:
1. Read requests (one JSON object per line) and estimate their cost
2. Partition them into batches under the configured ceilings
3. Submit each batch, reusing jobs already recorded for this run ID
4. Wait for the jobs and reconcile their output into results.jsonl`,
		RunE: runBatches,
	}

	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "requests.jsonl", "Path to the requests file")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run against an in-memory service that echoes requests")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newManifestCmd())
	rootCmd.AddCommand(newRepairCmd())
	rootCmd.AddCommand(newCostsCmd())
	rootCmd.AddCommand(newInitCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBatches(cmd *cobra.Command, args []string) error {
	// Load environment variables from file if it exists
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	// Load configuration
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	reqs, err := readRequestsFile(inputPath)
	if err != nil {
		return err
	}

	storageDir := cfg.Batch.StorageDir
	if dryRun {
		// Dry runs must never record fake job IDs under the real run
		storageDir, err = os.MkdirTemp("", "vellumbatch-dry-run-")
		if err != nil {
			return fmt.Errorf("failed to create dry-run directory: %w", err)
		}
	}

	// Determine log level
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	runDir, err := writer.NewRunDir(storageDir, cfg.Batch.RunID, writer.NewConsoleLogger(os.Stderr, logLevel))
	if err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	// Set up logger
	logger, logFile, err := writer.SetupLogger(runDir, os.Stderr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("vellumbatch starting",
		"version", Version,
		"config", configPath,
		"input", inputPath,
		"requests", len(reqs),
		"run_dir", runDir.Dir(),
		"dry_run", dryRun)

	// Backup config
	if err := runDir.BackupConfig(configPath); err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(logger)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	store, err := fingerprint.Open(cfg.Batch.StoreBackend, storageDir)
	if err != nil {
		return fmt.Errorf("failed to open fingerprint store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close fingerprint store", "error", err)
		}
	}()

	svc := newService(cfg, secrets, collector, logger)

	reconcileOpts := batch.ReconcilerOptions{RepairContent: cfg.Batch.RepairEnabled()}
	if cfg.Batch.ResponseSchema != "" {
		reconcileOpts.Schema, err = batch.LoadSchema(cfg.Batch.ResponseSchema)
		if err != nil {
			return err
		}
	}

	pollInterval := cfg.PollInterval()
	if dryRun {
		pollInterval = dryRunPollInterval
	}

	progress := newBarReporter()
	defer progress.Close()

	runner, err := batch.NewRunner(svc, store, batch.Options{
		RunID:        cfg.Batch.RunID,
		Endpoint:     cfg.Batch.Endpoint,
		Limits:       cfg.Limits(),
		PollInterval: pollInterval,
		Reconcile:    reconcileOpts,
		RunDir:       runDir,
		Reporter:     progress,
		Metrics:      collector,
	}, logger)
	if err != nil {
		return err
	}

	results, err := runner.Run(ctx, reqs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run interrupted - rerun with the same run_id to resume",
				"run_id", cfg.Batch.RunID)
			return fmt.Errorf("run interrupted (rerun with run_id %q to resume)", cfg.Batch.RunID)
		}
		var te *batch.TransportError
		if errors.As(err, &te) {
			logger.Error("Remote service failed - rerun with the same run_id to resume",
				"op", te.Op,
				"batch_index", te.BatchIndex,
				"job_id", te.JobID)
		}
		return fmt.Errorf("run failed: %w", err)
	}

	if err := writeResults(runDir.ResultsPath(), results, logger); err != nil {
		return err
	}

	summary := results.Summarize(cfg.Pricing)
	logger.Info("Run complete",
		"requests", summary.Requests,
		"success", summary.Success,
		"failed", summary.Failed,
		"absent", summary.Absent,
		"prompt_tokens", summary.Usage.PromptTokens,
		"completion_tokens", summary.Usage.CompletionTokens,
		"cost_usd", fmt.Sprintf("%.4f", summary.Cost.TotalUSD),
		"results", runDir.ResultsPath())

	return nil
}

// newService builds the remote service chain: rate limiting outermost so
// that instrumented durations exclude limiter waits
func newService(cfg *config.Config, secrets *config.Secrets, collector *metrics.Collector, logger *slog.Logger) remote.Service {
	var svc remote.Service
	if dryRun {
		svc = remote.NewMemory(nil)
	} else {
		apiKey := secrets.GetAPIKey(cfg.OpenAI.BaseURL)
		if apiKey == "" {
			logger.Warn("No API key found for base URL", "base_url", cfg.OpenAI.BaseURL)
		}
		svc = remote.NewOpenAI(remote.OpenAIConfig{
			APIKey:           apiKey,
			BaseURL:          cfg.OpenAI.BaseURL,
			Timeout:          cfg.OpenAI.Timeout(),
			MaxRetries:       cfg.OpenAI.SDKRetries(),
			CompletionWindow: cfg.Batch.CompletionWindow,
		}, logger)
	}
	return remote.NewLimited(remote.NewInstrumented(svc, collector), cfg.OpenAI.RateLimitPerMinute, collector, logger)
}

func readRequestsFile(path string) ([]models.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open requests file: %w", err)
	}
	defer f.Close()

	reqs, err := batch.ReadRequests(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return reqs, nil
}

func writeResults(path string, results *batch.Results, logger *slog.Logger) error {
	records, err := results.Records()
	if err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	rw, err := writer.NewResultsWriter(path, logger)
	if err != nil {
		return fmt.Errorf("failed to create results writer: %w", err)
	}
	for _, rec := range records {
		if err := rw.WriteRecord(rec); err != nil {
			_ = rw.Close()
			return fmt.Errorf("failed to write result %d: %w", rec.Ordinal, err)
		}
	}
	if err := rw.Close(); err != nil {
		return fmt.Errorf("failed to close results file: %w", err)
	}
	return nil
}
