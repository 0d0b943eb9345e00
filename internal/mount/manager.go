package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"

	"github.com/raphaelgruber/shareingest/internal/metrics"
	"github.com/raphaelgruber/shareingest/internal/share"
)

// Command is one OS-level invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // extra KEY=VALUE pairs
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandRunner executes mount and umount.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Name, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// MountTable answers whether a path is a live mount point.
type MountTable interface {
	Mounted(path string) (bool, error)
}

// OSMountTable reads the kernel mount table.
type OSMountTable struct{}

// Mounted implements MountTable.
func (OSMountTable) Mounted(path string) (bool, error) {
	return mountinfo.Mounted(path)
}

// Manager mounts and unmounts shares and records each outcome.
type Manager struct {
	ledger *Ledger
	runner CommandRunner
	table  MountTable
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. Nil runner and table fall back to the OS.
func NewManager(ledger *Ledger, runner CommandRunner, table MountTable, logger *slog.Logger) *Manager {
	if runner == nil {
		runner = ExecRunner{}
	}
	if table == nil {
		table = OSMountTable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ledger: ledger, runner: runner, table: table, logger: logger, now: time.Now}
}

// Ledger returns the mount ledger.
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// NewMountID returns a fresh mount identifier.
func NewMountID() string {
	return uuid.New().String()
}

// Mount attaches spec at mountPoint and upserts the ledger entry, marking it
// failed when the mount command does not succeed.
func (m *Manager) Mount(ctx context.Context, spec share.Spec, creds share.Credentials, mountPoint, mountID, listName string) (Record, error) {
	mountPoint = filepath.Clean(mountPoint)
	logger := m.logger.With("mount_point", mountPoint, "share", spec.String())

	mounted, err := m.table.Mounted(mountPoint)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("inspect mount table: %w", err)
	}
	rec := Record{
		MountID:    mountID,
		MountPoint: mountPoint,
		TargetPath: spec.String(),
		ListName:   listName,
		MountTime:  m.now().UTC(),
		Status:     StatusMounted,
	}

	if mounted {
		logger.Info("mount point busy, unmounting first")
		if err := m.umount(ctx, mountPoint); err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			metrics.MountOperations.WithLabelValues("mount", "error").Inc()
			logger.Error("unmount before remount failed", "error", err)
			if uerr := m.ledger.Upsert(rec); uerr != nil {
				return rec, errors.Join(err, uerr)
			}
			return rec, err
		}
	}

	runErr := m.runner.Run(ctx, mountCommand(spec, creds, mountPoint))
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
		metrics.MountOperations.WithLabelValues("mount", "error").Inc()
		logger.Error("mount failed", "error", runErr)
	} else {
		metrics.MountOperations.WithLabelValues("mount", "ok").Inc()
		logger.Info("share mounted", "mount_id", mountID)
	}

	if err := m.ledger.Upsert(rec); err != nil {
		return rec, errors.Join(runErr, err)
	}
	if runErr != nil {
		return rec, fmt.Errorf("mount %s on %s: %w", spec, mountPoint, runErr)
	}
	return rec, nil
}

// Unmount detaches mountPoint and marks its ledger entry unmounted.
func (m *Manager) Unmount(ctx context.Context, mountPoint string) error {
	mountPoint = filepath.Clean(mountPoint)
	if err := m.umount(ctx, mountPoint); err != nil {
		return err
	}
	err := m.ledger.SetStatus(mountPoint, StatusUnmounted)
	if errors.Is(err, ErrRecordNotFound) {
		m.logger.Warn("unmounted path had no ledger entry", "mount_point", mountPoint)
		return nil
	}
	return err
}

// IsMountPoint reports whether path is currently mounted.
func (m *Manager) IsMountPoint(path string) (bool, error) {
	mounted, err := m.table.Mounted(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return mounted, err
}

// EnsureMountPoint returns <baseDir>/<mountID>/<subpath>, creating it when
// missing and unmounting it when something is already mounted there.
func (m *Manager) EnsureMountPoint(ctx context.Context, baseDir, mountID, subpath string) (string, error) {
	dir := filepath.Join(baseDir, sanitizeSegment(mountID))
	for _, seg := range strings.FieldsFunc(subpath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == "." || seg == ".." {
			continue
		}
		dir = filepath.Join(dir, sanitizeSegment(seg))
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create mount point: %w", err)
		}
		return dir, nil
	case err != nil:
		return "", fmt.Errorf("stat mount point: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("mount point %s is not a directory", dir)
	}

	mounted, err := m.IsMountPoint(dir)
	if err != nil {
		return "", fmt.Errorf("inspect mount table: %w", err)
	}
	if mounted {
		m.logger.Info("remounting: unmounting existing mount", "mount_point", dir)
		if err := m.Unmount(ctx, dir); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (m *Manager) umount(ctx context.Context, mountPoint string) error {
	if err := m.runner.Run(ctx, Command{Name: "umount", Args: []string{mountPoint}}); err != nil {
		metrics.MountOperations.WithLabelValues("unmount", "error").Inc()
		return fmt.Errorf("unmount %s: %w", mountPoint, err)
	}
	metrics.MountOperations.WithLabelValues("unmount", "ok").Inc()
	m.logger.Info("share unmounted", "mount_point", mountPoint)
	return nil
}

func mountCommand(spec share.Spec, creds share.Credentials, mountPoint string) Command {
	var opts []string
	if creds.User != "" {
		opts = append(opts, "username="+creds.User)
	} else {
		opts = append(opts, "guest")
	}
	if creds.Domain != "" {
		opts = append(opts, "domain="+creds.Domain)
	}
	if spec.Port != 0 && spec.Port != share.DefaultPort {
		opts = append(opts, "port="+strconv.Itoa(spec.Port))
	}
	opts = append(opts, "ro")
	cmd := Command{
		Name: "mount",
		Args: []string{"-t", "cifs", spec.String(), mountPoint, "-o", strings.Join(opts, ",")},
	}
	if creds.Password != "" {
		cmd.Env = []string{"PASSWD=" + creds.Password}
	}
	return cmd
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
