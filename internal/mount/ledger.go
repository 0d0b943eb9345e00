// Package mount attaches remote shares to local directories through the OS
// CIFS facility and remembers what it mounted.
package mount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Status of a mount ledger entry.
type Status string

const (
	StatusMounted   Status = "mounted"
	StatusUnmounted Status = "unmounted"
	StatusFailed    Status = "failed"
)

// ErrRecordNotFound is returned for mount points the ledger has no entry for.
var ErrRecordNotFound = errors.New("mount record not found")

// Record is one mount ledger entry, keyed by MountPoint.
type Record struct {
	MountID    string    `yaml:"mount_id"`
	MountPoint string    `yaml:"mount_point"`
	TargetPath string    `yaml:"target_path"`
	ListName   string    `yaml:"list_name,omitempty"`
	MountTime  time.Time `yaml:"mount_time"`
	Status     Status    `yaml:"status"`
	Error      string    `yaml:"error,omitempty"`
}

type ledgerFile struct {
	Mounts []Record `yaml:"mounts"`
}

// Ledger is the YAML file shared by all mount operations.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger returns a ledger stored at path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// List returns every record in file order. A missing file is an empty ledger.
func (l *Ledger) List() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Get returns the record for mountPoint.
func (l *Ledger) Get(mountPoint string) (Record, error) {
	recs, err := l.List()
	if err != nil {
		return Record{}, err
	}
	key := filepath.Clean(mountPoint)
	for _, r := range recs {
		if r.MountPoint == key {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, mountPoint)
}

// Upsert replaces the record for rec.MountPoint or appends it.
func (l *Ledger) Upsert(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.load()
	if err != nil {
		return err
	}
	rec.MountPoint = filepath.Clean(rec.MountPoint)
	i := slices.IndexFunc(recs, func(r Record) bool { return r.MountPoint == rec.MountPoint })
	if i >= 0 {
		recs[i] = rec
	} else {
		recs = append(recs, rec)
	}
	return l.save(recs)
}

// SetStatus updates the status of an existing record.
func (l *Ledger) SetStatus(mountPoint string, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.load()
	if err != nil {
		return err
	}
	key := filepath.Clean(mountPoint)
	i := slices.IndexFunc(recs, func(r Record) bool { return r.MountPoint == key })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, mountPoint)
	}
	recs[i].Status = status
	return l.save(recs)
}

func (l *Ledger) load() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mount ledger: %w", err)
	}
	var f ledgerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mount ledger %s: %w", l.path, err)
	}
	return f.Mounts, nil
}

func (l *Ledger) save(recs []Record) error {
	data, err := yaml.Marshal(ledgerFile{Mounts: recs})
	if err != nil {
		return fmt.Errorf("encode mount ledger: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mount ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp mount ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write mount ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync mount ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mount ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace mount ledger: %w", err)
	}
	return nil
}
