package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/raphaelgruber/shareingest/internal/metrics"
)

// ErrLedgerIO wraps every ledger read or write failure. A failed checkpoint
// is fatal to the job that attempted it.
var ErrLedgerIO = errors.New("ledger io")

var header = []string{"path", "processed", "hash"}

// Store keeps one CSV ledger file per share key in a directory.
type Store struct {
	dir     string
	metrics *metrics.Collector

	// beforeRename runs after the temp file is written and synced; tests use
	// it to simulate a crash before the ledger is replaced.
	beforeRename func(tmp string) error
}

// NewStore returns a Store rooted at dir. collector may be nil.
func NewStore(dir string, collector *metrics.Collector) *Store {
	return &Store{dir: dir, metrics: collector}
}

// Path returns the ledger file for key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".csv")
}

// Exists reports whether a ledger has been written for key.
func (s *Store) Exists(key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %w", ErrLedgerIO, err)
}

// Load parses the ledger for key.
func (s *Store) Load(key string) ([]FileRecord, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerIO, err)
	}
	defer f.Close()

	records, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLedgerIO, s.Path(key), err)
	}
	return Dedupe(records), nil
}

// Bootstrap writes a fresh ledger with every path unprocessed.
func (s *Store) Bootstrap(key string, paths []string) ([]FileRecord, error) {
	records := make([]FileRecord, 0, len(paths))
	for _, p := range paths {
		records = append(records, FileRecord{Path: p})
	}
	records = Dedupe(records)
	if err := s.Checkpoint(key, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Checkpoint replaces the whole ledger with records. The new content goes to
// a temp file in the same directory which is synced and renamed over the old
// ledger, so readers see either the previous or the new ledger in full.
func (s *Store) Checkpoint(key string, records []FileRecord) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTiming(metrics.OpCheckpoint, time.Since(start))
		}
	}()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerIO, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerIO, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := encode(tmp, Dedupe(records)); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrLedgerIO, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrLedgerIO, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrLedgerIO, tmpPath, err)
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			return fmt.Errorf("%w: %w", ErrLedgerIO, err)
		}
	}
	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrLedgerIO, err)
	}
	syncDir(s.dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func encode(w io.Writer, records []FileRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.Path, strconv.FormatBool(r.Processed), r.Hash}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func decode(r io.Reader) ([]FileRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) > 0 && rows[0][0] == header[0] {
		rows = rows[1:]
	}

	records := make([]FileRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d: want at least 2 fields, got %d", i+1, len(row))
		}
		processed, err := strconv.ParseBool(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: processed: %w", i+1, err)
		}
		rec := FileRecord{Path: row[0], Processed: processed}
		if len(row) > 2 {
			rec.Hash = row[2]
		}
		records = append(records, rec)
	}
	return records, nil
}
