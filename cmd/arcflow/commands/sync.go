// Package commands implements CLI command handlers for arcflow.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
	"github.com/Sumatoshi-tech/arcflow/internal/changeset"
	"github.com/Sumatoshi-tech/arcflow/internal/config"
	"github.com/Sumatoshi-tech/arcflow/internal/export"
	"github.com/Sumatoshi-tech/arcflow/internal/indexer"
	"github.com/Sumatoshi-tech/arcflow/internal/logging"
	"github.com/Sumatoshi-tech/arcflow/internal/observability"
	"github.com/Sumatoshi-tech/arcflow/internal/pidlock"
	"github.com/Sumatoshi-tech/arcflow/internal/reconcile"
	"github.com/Sumatoshi-tech/arcflow/internal/report"
	"github.com/Sumatoshi-tech/arcflow/internal/repositories"
	"github.com/Sumatoshi-tech/arcflow/internal/runlog"
	"github.com/Sumatoshi-tech/arcflow/internal/runner"
	"github.com/Sumatoshi-tech/arcflow/internal/solr"
	"github.com/Sumatoshi-tech/arcflow/internal/staging"
	"github.com/Sumatoshi-tech/arcflow/internal/watermark"
)

// ErrRunFailed reports a finished run that recorded failures; the exit code
// must be non-zero even though the run completed.
var ErrRunFailed = errors.New("sync run recorded failures")

// File names under the state directory.
const (
	watermarkFile = ".arcflow.yml"
	pidFile       = "arcflow.pid"
	historyDir    = "history"
)

type syncOptions struct {
	configPath string

	force           bool
	agentsOnly      bool
	collectionsOnly bool
	skipIndexing    bool

	stagingDir  string
	stateDir    string
	solrURL     string
	batchSize   int
	workers     int
	metricsAddr string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(verbose, quiet *bool) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass",
		Long: `Sync resolves the change-set since the last successful run, exports
modified collections and creator agents to the staging directory,
reconciles deletions, and dispatches staged files to the indexer in
bounded batches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts, *verbose, *quiet)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file path")
	cmd.Flags().BoolVar(&opts.force, "force", false, "ignore the watermark and fully resync")
	cmd.Flags().BoolVar(&opts.agentsOnly, "agents-only", false, "process agent records only")
	cmd.Flags().BoolVar(&opts.collectionsOnly, "collections-only", false, "process collection records only")
	cmd.Flags().BoolVar(&opts.skipIndexing, "skip-indexing", false, "stage records without invoking the indexer")
	cmd.Flags().StringVar(&opts.stagingDir, "staging-dir", "", "staging directory (overrides config)")
	cmd.Flags().StringVar(&opts.stateDir, "state-dir", "", "state directory (overrides config)")
	cmd.Flags().StringVar(&opts.solrURL, "solr-url", "", "Solr core URL (overrides config)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "files per indexing batch (overrides config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "export worker pool size (overrides config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address for the run")

	cmd.MarkFlagsMutuallyExclusive("agents-only", "collections-only")

	// A force resync wipes the whole index before re-exporting; restricting
	// it to one record kind would destroy the other kind's documents.
	cmd.MarkFlagsMutuallyExclusive("force", "agents-only")
	cmd.MarkFlagsMutuallyExclusive("force", "collections-only")

	return cmd
}

func runSync(ctx context.Context, opts *syncOptions, verbose, quiet bool) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	applyOverrides(cfg, opts)

	logger, closeLog, err := logging.Setup(logging.Options{
		Verbose: verbose,
		Quiet:   quiet,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	mkdirErr := os.MkdirAll(cfg.State.Dir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create state dir %s: %w", cfg.State.Dir, mkdirErr)
	}

	lock, err := pidlock.Acquire(filepath.Join(cfg.State.Dir, pidFile))
	if err != nil {
		if errors.Is(err, pidlock.ErrHeld) {
			logger.Info("sync already running, exiting", "error", err)

			return nil
		}

		return err
	}
	defer lock.Release()

	client := aspace.NewHTTPClient(cfg.Aspace.BaseURL, cfg.Aspace.Username, cfg.Aspace.Password)

	loginErr := client.Login(ctx)
	if loginErr != nil {
		return fmt.Errorf("archivesspace login: %w", loginErr)
	}

	stagingDir, err := staging.New(cfg.Staging.Dir)
	if err != nil {
		return err
	}

	retry := retryPolicy(cfg)
	solrClient := solr.New(cfg.Solr.URL)

	var metrics *observability.SyncMetrics

	stopMetrics := func() error { return nil }

	if opts.metricsAddr != "" {
		meter, handler, meterErr := observability.NewMeter()
		if meterErr != nil {
			return meterErr
		}

		metrics, meterErr = observability.NewSyncMetrics(meter)
		if meterErr != nil {
			return meterErr
		}

		stopMetrics = observability.Serve(opts.metricsAddr, handler)
	}

	defer func() {
		stopErr := stopMetrics()
		if stopErr != nil {
			logger.Warn("metrics server did not stop cleanly", "error", stopErr)
		}
	}()

	var directory runner.DirectoryGenerator
	if cfg.Repositories.Output != "" {
		directory = repositories.NewGenerator(client, cfg.Repositories.Output, logger)
	}

	run := &runner.Runner{
		Resolver:   changeset.NewResolver(client, retry, logger),
		Exporter:   export.NewExporter(client, stagingDir, retry, logger),
		Reconciler: reconcile.New(stagingDir, solrClient, cfg.Sync.Workers, logger),
		Dispatcher: indexer.New(&indexer.ExecInvoker{
			Command: cfg.Indexing.Command,
			Args:    cfg.Indexing.Args,
			Dir:     cfg.Indexing.Dir,
			SolrURL: cfg.Solr.URL,
		}, cfg.Indexing.BatchSize, cfg.Indexing.Workers, logger),
		Cleaner:   solrClient,
		Watermark: watermark.NewStore(filepath.Join(cfg.State.Dir, watermarkFile)),
		Staging:   stagingDir,
		Directory: directory,
		Metrics:   metrics,
		Logger:    logger,
		Workers:   cfg.Sync.Workers,
	}

	result, runErr := run.Run(ctx, runner.Options{
		Force:           opts.force,
		CollectionsOnly: opts.collectionsOnly,
		AgentsOnly:      opts.agentsOnly,
		SkipIndexing:    opts.skipIndexing,
	})

	if result != nil {
		report.Render(os.Stdout, result)

		history := runlog.NewStore(
			filepath.Join(cfg.State.Dir, historyDir),
			cfg.State.HistoryKeep,
			time.Duration(cfg.State.HistoryMaxDays)*24*time.Hour,
		)

		saveErr := history.Save(result.StartedAt, result.RunID, result)
		if saveErr != nil {
			logger.Warn("could not persist run report", "error", saveErr)
		}
	}

	if runErr != nil {
		return runErr
	}

	if result.Failed() {
		return fmt.Errorf("%w: %d item(s), %d batch(es)", ErrRunFailed, len(result.Failures), result.BatchesFailed)
	}

	return nil
}

// applyOverrides layers explicit flag values over the loaded config.
func applyOverrides(cfg *config.Config, opts *syncOptions) {
	if opts.stagingDir != "" {
		cfg.Staging.Dir = opts.stagingDir
	}

	if opts.stateDir != "" {
		cfg.State.Dir = opts.stateDir
	}

	if opts.solrURL != "" {
		cfg.Solr.URL = opts.solrURL
	}

	if opts.batchSize > 0 {
		cfg.Indexing.BatchSize = opts.batchSize
	}

	if opts.workers > 0 {
		cfg.Sync.Workers = opts.workers
	}
}

func retryPolicy(cfg *config.Config) aspace.RetryPolicy {
	policy := aspace.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Sync.RetryAttempts

	backoff, err := time.ParseDuration(cfg.Sync.RetryBackoff)
	if err == nil && backoff > 0 {
		policy.BackoffBase = backoff
	}

	return policy
}
