// Package sharetest provides an in-memory share.Client for tests.
package sharetest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/shareingest/internal/share"
)

// MemShare is a fake remote tree. Files are keyed by slash path relative to
// the share root; directories are implied by file paths.
type MemShare struct {
	mu    sync.Mutex
	files map[string][]byte

	// inUse detects concurrent use of one client handle.
	inUse      atomic.Int32
	Concurrent atomic.Bool

	Dials  atomic.Int32
	Closes atomic.Int32

	// DialErr, when set, makes Dialer fail.
	DialErr error
}

// New returns a MemShare holding the given files.
func New(files map[string]string) *MemShare {
	m := &MemShare{files: make(map[string][]byte)}
	for p, content := range files {
		m.files[clean(p)] = []byte(content)
	}
	return m
}

// Put adds or replaces a file.
func (m *MemShare) Put(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(p)] = []byte(content)
}

// Remove deletes a file.
func (m *MemShare) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, clean(p))
}

// Content returns a file's bytes.
func (m *MemShare) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[clean(p)]
	return b, ok
}

// Dialer returns a share.Dialer serving this tree.
func (m *MemShare) Dialer() share.Dialer {
	return func(ctx context.Context, spec share.Spec, creds share.Credentials) (share.Client, error) {
		if m.DialErr != nil {
			return nil, m.DialErr
		}
		m.Dials.Add(1)
		return m, nil
	}
}

func (m *MemShare) enter() func() {
	if m.inUse.Add(1) > 1 {
		m.Concurrent.Store(true)
	}
	time.Sleep(time.Millisecond)
	return func() { m.inUse.Add(-1) }
}

// ReadDir implements share.Client.
func (m *MemShare) ReadDir(dir string) ([]fs.FileInfo, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = clean(dir)
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	seen := make(map[string]bool)
	var out []fs.FileInfo
	for p, content := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		if nested {
			out = append(out, fileInfo{name: name, dir: true})
		} else {
			out = append(out, fileInfo{name: name, size: int64(len(content))})
		}
	}
	if dir != "" && len(out) == 0 {
		return nil, fmt.Errorf("readdir %s: %w", dir, fs.ErrNotExist)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Stat implements share.Client.
func (m *MemShare) Stat(name string) (fs.FileInfo, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	if content, ok := m.files[name]; ok {
		return fileInfo{name: path.Base(name), size: int64(len(content))}, nil
	}
	for p := range m.files {
		if strings.HasPrefix(p, name+"/") {
			return fileInfo{name: path.Base(name), dir: true}, nil
		}
	}
	return nil, fmt.Errorf("stat %s: %w", name, fs.ErrNotExist)
}

// Close implements share.Client.
func (m *MemShare) Close() error {
	m.Closes.Add(1)
	return nil
}

func clean(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (f fileInfo) Name() string { return f.name }
func (f fileInfo) Size() int64  { return f.size }
func (f fileInfo) Mode() fs.FileMode {
	if f.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return f.dir }
func (f fileInfo) Sys() any           { return nil }
