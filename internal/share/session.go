package share

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
)

// ErrSessionClosed is returned by WithLock after Close.
var ErrSessionClosed = errors.New("share session closed")

// Session is one logical connection to a share. Every remote call goes
// through WithLock: the underlying client handle is used by one goroutine at
// a time.
type Session struct {
	spec   Spec
	logger *slog.Logger

	mu     sync.Mutex
	client Client
	closed bool
}

// Open dials the share. Failures wrap ErrConnection.
func Open(ctx context.Context, dial Dialer, spec Spec, creds Credentials, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := dial(ctx, spec, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, spec.UNC(), err)
	}
	logger.Debug("share session opened", "share", spec.UNC())
	return &Session{spec: spec, logger: logger, client: client}, nil
}

// Spec returns the share this session is connected to.
func (s *Session) Spec() Spec {
	return s.spec
}

// WithLock runs fn while holding the session mutex. The lock is not
// reentrant: fn must not call WithLock.
func (s *Session) WithLock(fn func(Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return fn(s.client)
}

// Exists stats name under the lock.
func (s *Session) Exists(name string) (bool, error) {
	var found bool
	err := s.WithLock(func(c Client) error {
		_, err := c.Stat(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return found, nil
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.client.Close(); err != nil {
		s.logger.Warn("failed to close share session", "share", s.spec.UNC(), "error", err)
		return err
	}
	s.logger.Debug("share session closed", "share", s.spec.UNC())
	return nil
}
