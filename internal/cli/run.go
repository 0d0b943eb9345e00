package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/shareingest/internal/config"
	"github.com/raphaelgruber/shareingest/internal/convert"
	"github.com/raphaelgruber/shareingest/internal/ledger"
	"github.com/raphaelgruber/shareingest/internal/metrics"
	"github.com/raphaelgruber/shareingest/internal/server"
	"github.com/raphaelgruber/shareingest/internal/service"
	"github.com/raphaelgruber/shareingest/internal/share"
	"github.com/raphaelgruber/shareingest/internal/transfer"
)

var (
	runCreds        credentialFlags
	runIgnore       []string
	runBatchSize    int
	runConcurrency  int
	runBatchTimeout time.Duration
	runNoProgress   bool
	runMetricsAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run <share>",
	Short: "Copy unprocessed files from a share",
	Long: `Copy every unprocessed file from an SMB share into the local staging area.

The first run walks the share and writes a ledger. Files are then copied in
batches; the ledger is checkpointed after every batch so an interrupted run
resumes where it stopped.

Examples:
  shareingest run //nas/docs
  shareingest run //nas.local:4455/scans/2024 --user alice
  echo "$PW" | shareingest run //nas/docs --user alice --password-stdin
  shareingest run //nas/docs --ignore tmp --ignore '~$*'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runCreds.user, "user", "u", "", "SMB user (default: config smb_user)")
	runCmd.Flags().StringVar(&runCreds.domain, "domain", "", "SMB domain or workgroup")
	runCmd.Flags().BoolVar(&runCreds.passwordStdin, "password-stdin", false, "read the password from stdin")
	runCmd.Flags().StringArrayVar(&runIgnore, "ignore", nil, "extension or base-name glob to skip during discovery (repeatable)")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "files per checkpointed batch (default: config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "parallel transfers per batch (default: config)")
	runCmd.Flags().DurationVar(&runBatchTimeout, "batch-timeout", 0, "deadline for one batch (default: config)")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "disable the interactive progress display")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	rootCmd.AddCommand(runCmd)
}

// quietConsole reports whether console logging would fight the progress UI.
func quietConsole(cmd *cobra.Command) bool {
	return cmd.Name() == "run" && progressEnabled()
}

func progressEnabled() bool {
	return !runNoProgress && term.IsTerminal(int(os.Stdout.Fd()))
}

func runRun(cmd *cobra.Command, args []string) error {
	creds, err := runCreds.resolve(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	collector := metrics.NewCollector()
	svc := newIngestService(cfg, collector, logger)
	go svc.Registry().RunSweeper(ctx, cfg.SweepInterval)

	if addr := firstNonEmpty(runMetricsAddr, cfg.MetricsAddr); addr != "" {
		srv := server.New(addr, collector, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}

	jobID := svc.StartJob(ctx, args[0], creds, runIgnore)
	logger.Debug("job started", "job_id", jobID, "share", args[0])

	if progressEnabled() {
		job, aborted, err := RunJobProgress(svc, jobID)
		if aborted {
			cancel()
			return nil
		}
		if err != nil {
			return err
		}
		if job != nil {
			return jobError(*job)
		}
		return nil
	}

	job, err := waitForJob(svc, jobID, cancel)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderSummary(defaultTheme, job))
	return jobError(job)
}

// newIngestService wires the production collaborators from config.
func newIngestService(c config.Config, collector *metrics.Collector, log *slog.Logger) *service.IngestService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transfers := transfer.New(
		transfer.SMBClientRunner{Path: c.SMBClientPath},
		transfer.Options{Timeout: c.TransferTimeout, Attempts: c.TransferAttempts},
		collector, log,
	)
	deps := service.Deps{
		Dialer:     share.DialSMB,
		Ledger:     ledger.NewStore(c.LedgerDir, collector),
		Transfers:  transfers,
		Converters: convert.DefaultRegistry(),
		Trash:      convert.DirTrash{Dir: c.TrashDir},
		Registry:   service.NewRegistry(c.JobTTL, log),
		Metrics:    collector,
		Logger:     log,
	}
	opts := service.IngestOptions{
		BatchSize:    c.BatchSize,
		Concurrency:  c.Concurrency,
		BatchTimeout: c.BatchTimeout,
		StagingRoot:  c.StagingRoot,
	}
	if runBatchSize > 0 {
		opts.BatchSize = runBatchSize
	}
	if runConcurrency > 0 {
		opts.Concurrency = runConcurrency
	}
	if runBatchTimeout > 0 {
		opts.BatchTimeout = runBatchTimeout
	}
	return service.NewIngestService(deps, opts)
}

// waitForJob polls until the job is terminal. The first SIGINT/SIGTERM asks
// the job to stop at its next batch boundary, the second cancels it.
func waitForJob(source jobSource, jobID string, cancel context.CancelFunc) (service.Job, error) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	stopping := false
	for {
		job, err := source.GetStatus(jobID)
		if err != nil {
			return service.Job{}, fmt.Errorf("failed to fetch job status: %w", err)
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-sigs:
			if stopping {
				logger.Warn("second interrupt, cancelling job", "job_id", jobID)
				cancel()
				continue
			}
			stopping = true
			logger.Info("interrupt received, stopping after the current batch", "job_id", jobID)
			if err := source.RequestStop(jobID); err != nil && !errors.Is(err, service.ErrJobNotFound) {
				return job, err
			}
		case <-ticker.C:
		}
	}
}

// jobError turns a failed job into a command error.
func jobError(job service.Job) error {
	if job.Status == service.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, resultText(job))
	}
	return nil
}
