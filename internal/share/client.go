package share

import (
	"context"
	"io/fs"
)

// Client is the remote-protocol boundary. Implementations are not assumed
// to be safe for concurrent use; Session serializes access.
type Client interface {
	// ReadDir lists one directory. Paths are slash-separated and relative to
	// the share root; "" is the root.
	ReadDir(dir string) ([]fs.FileInfo, error)
	// Stat returns fs.ErrNotExist (possibly wrapped) for missing paths.
	Stat(name string) (fs.FileInfo, error)
	Close() error
}

// Dialer opens a Client for a share.
type Dialer func(ctx context.Context, spec Spec, creds Credentials) (Client, error)
