package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/raphaelgruber/shareingest/internal/metrics"
	"github.com/raphaelgruber/shareingest/internal/share"
)

var (
	// ErrReservedName rejects destinations the local filesystem cannot hold.
	ErrReservedName = errors.New("reserved filename")
	// ErrEmptyFile marks a tool run that reported success but wrote nothing.
	ErrEmptyFile = errors.New("transfer produced an empty file")
	// ErrUnsafeName rejects paths the transfer tool's command syntax cannot carry.
	ErrUnsafeName = errors.New("unsafe filename")
	// ErrRetriesExhausted wraps the last attempt's error.
	ErrRetriesExhausted = errors.New("transfer retries exhausted")
)

// Error is returned when a single file could not be staged. The file is
// skipped; the job carries on.
type Error struct {
	RemotePath string
	Reason     string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transfer %s: %s", e.RemotePath, e.Reason)
	}
	return fmt.Sprintf("transfer %s: %s: %v", e.RemotePath, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Target names the remote file and where to stage it.
type Target struct {
	Spec        share.Spec
	Credentials share.Credentials
	RemotePath  string
	StagingDir  string
}

// Options tune a Transferrer. Zero values fall back to defaults.
type Options struct {
	Timeout         time.Duration // per tool invocation, default 30s
	Attempts        int           // total tries, default 3
	InitialInterval time.Duration // first backoff delay, default 500ms
	MaxInterval     time.Duration // default 5s
}

// Transferrer stages remote files through a Runner with retries.
type Transferrer struct {
	runner    Runner
	opts      Options
	collector *metrics.Collector
	logger    *slog.Logger
	newPrefix func() string
}

// New creates a Transferrer.
func New(runner Runner, opts Options, collector *metrics.Collector, logger *slog.Logger) *Transferrer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transferrer{
		runner:    runner,
		opts:      opts,
		collector: collector,
		logger:    logger,
		newPrefix: func() string { return uuid.New().String() },
	}
}

// Transfer copies t.RemotePath into t.StagingDir as <prefix>_<basename> and
// returns the staged path. A .tmp sibling receives the bytes and is renamed
// into place only when non-empty; no .tmp file survives the call.
func (tr *Transferrer) Transfer(ctx context.Context, t Target) (string, error) {
	base := path.Base(strings.ReplaceAll(t.RemotePath, `\`, "/"))
	if t.RemotePath == "" || IsReserved(base) {
		return "", &Error{RemotePath: t.RemotePath, Reason: "reserved filename", Err: ErrReservedName}
	}
	if !CommandSafe(t.RemotePath) {
		return "", &Error{RemotePath: t.RemotePath, Reason: "unsafe filename", Err: ErrUnsafeName}
	}
	name := tr.newPrefix() + "_" + base
	if IsReserved(name) {
		return "", &Error{RemotePath: t.RemotePath, Reason: "reserved filename", Err: ErrReservedName}
	}

	if err := os.MkdirAll(t.StagingDir, 0o755); err != nil {
		return "", &Error{RemotePath: t.RemotePath, Reason: "create staging dir", Err: err}
	}
	final := filepath.Join(t.StagingDir, name)
	tmp := final + ".tmp"
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			tr.logger.Warn("failed to remove temp file", "path", tmp, "error", err)
		}
	}()

	start := time.Now()
	attempts := 0
	op := func() error {
		attempts++
		err := tr.attempt(ctx, t, tmp, final)
		if err != nil {
			tr.logger.Debug("transfer attempt failed",
				"remote", t.RemotePath, "attempt", attempts, "error", err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = tr.opts.InitialInterval
	eb.MaxInterval = tr.opts.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(tr.opts.Attempts-1)), ctx)

	err := backoff.Retry(op, policy)
	elapsed := time.Since(start)
	metrics.TransferDuration.Observe(elapsed.Seconds())
	if tr.collector != nil {
		tr.collector.RecordResult(metrics.OpTransfer, elapsed, err)
	}
	if err != nil {
		return "", &Error{
			RemotePath: t.RemotePath,
			Reason:     fmt.Sprintf("failed after %d attempts", attempts),
			Attempts:   attempts,
			Err:        fmt.Errorf("%w: %w", ErrRetriesExhausted, err),
		}
	}
	return final, nil
}

func (tr *Transferrer) attempt(ctx context.Context, t Target, tmp, final string) error {
	actx, cancel := context.WithTimeout(ctx, tr.opts.Timeout)
	defer cancel()

	err := tr.runner.Run(actx, Request{
		Spec:        t.Spec,
		Credentials: t.Credentials,
		RemotePath:  t.RemotePath,
		LocalPath:   tmp,
	})
	if err != nil {
		_ = os.Remove(tmp)
		metrics.TransferAttempts.WithLabelValues("error").Inc()
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("timed out after %s: %w", tr.opts.Timeout, err)
		}
		return err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		metrics.TransferAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(tmp)
		metrics.TransferAttempts.WithLabelValues("empty").Inc()
		return ErrEmptyFile
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		metrics.TransferAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("rename temp file: %w", err)
	}
	metrics.TransferAttempts.WithLabelValues("ok").Inc()
	return nil
}

var reserved = func() map[string]bool {
	m := map[string]bool{"CON": true, "PRN": true, "AUX": true, "NUL": true}
	for i := 1; i <= 9; i++ {
		m[fmt.Sprintf("COM%d", i)] = true
		m[fmt.Sprintf("LPT%d", i)] = true
	}
	return m
}()

// IsReserved reports whether name is a device name (with or without an
// extension) or a path-special name.
func IsReserved(name string) bool {
	n := strings.TrimSpace(name)
	if n == "" || n == "." || n == ".." {
		return true
	}
	stem := n
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return reserved[strings.ToUpper(strings.TrimRight(stem, " "))]
}
