package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/raphaelgruber/shareingest/internal/convert"
	"github.com/raphaelgruber/shareingest/internal/ledger"
	"github.com/raphaelgruber/shareingest/internal/metrics"
	"github.com/raphaelgruber/shareingest/internal/share"
	"github.com/raphaelgruber/shareingest/internal/transfer"
)

// ErrBatchTimeout marks a batch abandoned at its deadline.
var ErrBatchTimeout = errors.New("batch timed out")

// LedgerStore persists per-share file records.
type LedgerStore interface {
	Exists(key string) (bool, error)
	Load(key string) ([]ledger.FileRecord, error)
	Bootstrap(key string, paths []string) ([]ledger.FileRecord, error)
	Checkpoint(key string, records []ledger.FileRecord) error
}

// Transferer stages one remote file locally.
type Transferer interface {
	Transfer(ctx context.Context, t transfer.Target) (string, error)
}

// Converters resolves staged files to content converters.
type Converters interface {
	Supported(ext string) bool
	Resolve(localPath, filename string) (convert.Converter, string, error)
}

// Deps are the collaborators of an IngestService.
type Deps struct {
	Dialer     share.Dialer
	Ledger     LedgerStore
	Transfers  Transferer
	Converters Converters
	Trash      convert.Trash
	Registry   *Registry
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// IngestOptions tune the batch loop.
type IngestOptions struct {
	BatchSize      int           // files per checkpoint, default 5
	Concurrency    int           // workers per batch, default 3
	BatchTimeout   time.Duration // default 5m
	StagingRoot    string
	ConvertOptions map[string]any
}

// IngestService copies unprocessed files from a share in checkpointed batches.
type IngestService struct {
	deps   Deps
	opts   IngestOptions
	logger *slog.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(deps Deps, opts IngestOptions) *IngestService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(time.Hour, deps.Logger)
	}
	return &IngestService{deps: deps, opts: opts, logger: deps.Logger}
}

// Registry returns the job registry the service reports into.
func (s *IngestService) Registry() *Registry {
	return s.deps.Registry
}

// StartJob registers a job and runs it in the background.
func (s *IngestService) StartJob(ctx context.Context, rawSpec string, creds share.Credentials, ignore []string) string {
	jobID := s.deps.Registry.Create(rawSpec)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job goroutine panicked", "job_id", jobID, "panic", r)
				s.finish(jobID, JobStatusFailed, fmt.Sprintf("internal panic: %v", r), nil)
			}
		}()
		_ = s.Run(ctx, jobID, rawSpec, creds, ignore)
	}()

	return jobID
}

// GetStatus returns the job's current record.
func (s *IngestService) GetStatus(jobID string) (Job, error) {
	return s.deps.Registry.Get(jobID)
}

// RequestStop asks the job to stop at its next batch boundary.
func (s *IngestService) RequestStop(jobID string) error {
	return s.deps.Registry.RequestStop(jobID)
}

// StopAll flags and discards every job.
func (s *IngestService) StopAll() int {
	return s.deps.Registry.StopAll()
}

// Run executes the job synchronously. Every return leaves the job in a
// terminal status; the returned error is the one recorded for failed jobs.
func (s *IngestService) Run(ctx context.Context, jobID, rawSpec string, creds share.Credentials, ignore []string) (err error) {
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	logger := s.logger.With("job_id", jobID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal panic: %v", r)
			logger.Error("job panicked", "panic", r)
		}
		if err != nil {
			s.finish(jobID, JobStatusFailed, err.Error(), nil)
		}
	}()

	spec, err := share.ParseSpec(rawSpec)
	if err != nil {
		return err
	}

	sess, err := share.Open(ctx, s.deps.Dialer, spec, creds, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("failed to close share session", "error", cerr)
		}
	}()

	key := spec.Key()
	exists, err := s.deps.Ledger.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		paths, err := ledger.Discover(ctx, sess, spec.Subdir, ledger.Filter{Ignore: ignore}, s.deps.Metrics, logger)
		if err != nil {
			return fmt.Errorf("discover %s: %w", spec, err)
		}
		if _, err := s.deps.Ledger.Bootstrap(key, paths); err != nil {
			return err
		}
		logger.Info("ledger bootstrapped", "key", key, "files", len(paths))
	}

	records, err := s.deps.Ledger.Load(key)
	if err != nil {
		return err
	}
	pending := ledger.Unprocessed(records, s.deps.Converters.Supported)
	if len(pending) == 0 {
		logger.Info("nothing to do", "key", key, "records", len(records))
		s.finish(jobID, JobStatusCompleted, "nothing to do", &Stats{})
		return nil
	}

	batches := chunk(pending, s.opts.BatchSize)
	index := make(map[string]int, len(records))
	for i, rec := range records {
		index[rec.Path] = i
	}
	stats := Stats{Total: len(pending), Batches: len(batches)}
	base := transfer.Target{
		Spec:        spec,
		Credentials: creds,
		StagingDir:  filepath.Join(s.opts.StagingRoot, key),
	}

	logger.Info("starting batches",
		"key", key, "pending", len(pending), "batches", len(batches),
		"batch_size", s.opts.BatchSize, "concurrency", s.opts.Concurrency)

	for i, batch := range batches {
		if s.deps.Registry.ShouldStop(jobID) || ctx.Err() != nil {
			logger.Info("job interrupted", "batches_done", i, "batches", len(batches))
			s.finish(jobID, JobStatusInterrupted,
				fmt.Sprintf("interrupted after %d of %d batches", i, len(batches)), &stats)
			return nil
		}
		s.update(jobID, JobUpdate{Status: ptrTo(JobStatusRunning), Stats: ptrTo(stats)})

		outcomes, batchErr := s.runBatch(ctx, sess, base, batch, logger)
		if errors.Is(batchErr, ErrBatchTimeout) {
			stats.TimedOut++
			metrics.BatchTimeouts.Inc()
			logger.Warn("batch timed out", "batch", i+1, "resolved", len(outcomes), "size", len(batch))
		}

		for _, o := range outcomes {
			switch o.status {
			case outcomeProcessed:
				idx := index[o.path]
				records[idx].Processed = true
				records[idx].Hash = o.hash
				stats.Transferred++
				metrics.FilesTransferred.Inc()
			case outcomeTrashed:
				stats.Trashed++
				metrics.FilesTrashed.Inc()
			case outcomeFailed:
				stats.Failed++
				metrics.FilesFailed.Inc()
			}
		}

		if err := s.deps.Ledger.Checkpoint(key, records); err != nil {
			return err
		}
		stats.BatchesDone = i + 1
		metrics.BatchesCompleted.Inc()

		progress := float64(stats.BatchesDone) / float64(len(batches)) * 100
		s.update(jobID, JobUpdate{Progress: &progress, Stats: ptrTo(stats)})
		logger.Info("batch checkpointed",
			"batch", stats.BatchesDone, "batches", len(batches),
			"transferred", stats.Transferred, "failed", stats.Failed, "trashed", stats.Trashed)
	}

	s.finish(jobID, JobStatusCompleted, fmt.Sprintf(
		"processed %d of %d files in %d batches (%d failed, %d trashed, %d batch timeouts)",
		stats.Transferred, stats.Total, stats.Batches, stats.Failed, stats.Trashed, stats.TimedOut), &stats)
	return nil
}

type outcomeStatus int

const (
	outcomeProcessed outcomeStatus = iota
	outcomeFailed
	outcomeTrashed
)

type fileOutcome struct {
	path   string
	status outcomeStatus
	hash   string
	err    error
}

// runBatch fans the batch out to a bounded worker pool and collects the
// outcomes that resolve before the batch deadline. On timeout the batch
// context is cancelled, which stops in-flight transfer tool processes.
func (s *IngestService) runBatch(ctx context.Context, sess *share.Session, base transfer.Target, batch []ledger.FileRecord, logger *slog.Logger) ([]fileOutcome, error) {
	bctx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
	defer cancel()

	work := make(chan ledger.FileRecord, len(batch))
	results := make(chan fileOutcome, len(batch))
	var wg sync.WaitGroup

	workers := min(s.opts.Concurrency, len(batch))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for rec := range work {
				if bctx.Err() != nil {
					return
				}
				logger.Debug("processing file", "worker", workerID, "file", rec.Path)
				results <- s.processFile(bctx, sess, base, rec, logger)
			}
		}(i)
	}

	for _, rec := range batch {
		work <- rec
	}
	close(work)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	outcomes := make([]fileOutcome, 0, len(batch))
	for {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
			if len(outcomes) == len(batch) {
				return outcomes, nil
			}
		case <-done:
			for {
				select {
				case o := <-results:
					outcomes = append(outcomes, o)
				default:
					return outcomes, nil
				}
			}
		case <-bctx.Done():
			if ctx.Err() != nil {
				return outcomes, ctx.Err()
			}
			return outcomes, ErrBatchTimeout
		}
	}
}

func (s *IngestService) processFile(ctx context.Context, sess *share.Session, base transfer.Target, rec ledger.FileRecord, logger *slog.Logger) fileOutcome {
	out := fileOutcome{path: rec.Path, status: outcomeFailed}

	exists, err := sess.Exists(rec.Path)
	if err != nil {
		out.err = err
		logger.Warn("remote stat failed", "file", rec.Path, "error", err)
		return out
	}
	if !exists {
		out.err = fmt.Errorf("%s: no longer on share", rec.Path)
		logger.Warn("file vanished from share", "file", rec.Path)
		return out
	}

	t := base
	t.RemotePath = rec.Path
	local, err := s.deps.Transfers.Transfer(ctx, t)
	if err != nil {
		out.err = err
		logger.Warn("transfer failed", "file", rec.Path, "error", err)
		return out
	}

	filename := path.Base(rec.Path)
	conv, ext, err := s.deps.Converters.Resolve(local, filename)
	if errors.Is(err, convert.ErrUnsupported) {
		return s.trash(out, local, err, logger)
	}
	if err != nil {
		out.err = err
		logger.Warn("converter lookup failed", "file", rec.Path, "error", err)
		return out
	}

	start := time.Now()
	res, err := conv.Convert(ctx, convert.Input{LocalPath: local, Filename: filename, Options: s.opts.ConvertOptions})
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordResult(metrics.OpConvert, time.Since(start), err)
	}
	if err != nil {
		out.err = err
		logger.Warn("conversion failed", "file", rec.Path, "ext", ext, "error", err)
		return out
	}
	if !res.Success {
		return s.trash(out, local, fmt.Errorf("%w: %s", convert.ErrUnsupported, res.Reason), logger)
	}

	logger.Debug("file converted", "file", rec.Path, "ext", ext, "documents", len(res.Documents))
	out.status = outcomeProcessed
	out.hash = ledger.IdentityToken(rec.Path)
	return out
}

func (s *IngestService) trash(out fileOutcome, local string, cause error, logger *slog.Logger) fileOutcome {
	out.err = cause
	if s.deps.Trash == nil {
		logger.Warn("unsupported file left in staging", "file", out.path, "reason", cause)
		return out
	}
	dst, err := s.deps.Trash.Trash(local)
	if err != nil {
		out.err = errors.Join(cause, err)
		logger.Warn("failed to trash file", "file", out.path, "error", err)
		return out
	}
	out.status = outcomeTrashed
	logger.Info("file trashed", "file", out.path, "trash", dst, "reason", cause)
	return out
}

func (s *IngestService) update(jobID string, u JobUpdate) {
	if err := s.deps.Registry.Update(jobID, u); err != nil {
		s.logger.Debug("job update dropped", "job_id", jobID, "error", err)
	}
}

func (s *IngestService) finish(jobID string, status JobStatus, result string, stats *Stats) {
	s.update(jobID, JobUpdate{Status: &status, Result: &result, Stats: stats})
	metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	if status == JobStatusFailed {
		s.logger.Error("job failed", "job_id", jobID, "error", result)
		return
	}
	s.logger.Info("job finished", "job_id", jobID, "status", status, "result", result)
}

func chunk(records []ledger.FileRecord, size int) [][]ledger.FileRecord {
	var out [][]ledger.FileRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}

func ptrTo[T any](v T) *T { return &v }
