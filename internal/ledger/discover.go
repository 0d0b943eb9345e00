package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/raphaelgruber/shareingest/internal/metrics"
	"github.com/raphaelgruber/shareingest/internal/share"
)

// Filter decides which discovered files enter the ledger.
type Filter struct {
	// Ignore holds extension patterns ("tmp", ".bak") or base-name globs
	// ("~$*", "Thumbs.db"). Matching is case-insensitive.
	Ignore []string
	// Supported reports whether a converter exists for an extension
	// (lowercased, no dot). Nil accepts everything.
	Supported func(ext string) bool
}

// Allow reports whether p passes the filter.
func (f Filter) Allow(p string) bool {
	base := strings.ToLower(path.Base(p))
	ext := Ext(p)
	for _, pattern := range f.Ignore {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if isExtPattern(pattern) {
			if ext == strings.TrimPrefix(pattern, ".") {
				return false
			}
			continue
		}
		if ok, err := path.Match(pattern, base); err == nil && ok {
			return false
		}
	}
	if f.Supported != nil && !f.Supported(ext) {
		return false
	}
	return true
}

// isExtPattern treats "tmp" and ".tmp" as extensions; anything with a glob
// character or an inner dot is a base-name pattern.
func isExtPattern(p string) bool {
	if strings.ContainsAny(p, "*?[") {
		return false
	}
	return !strings.Contains(strings.TrimPrefix(p, "."), ".")
}

// Discover walks the remote tree under subdir breadth-first and returns every
// file the filter allows. Each directory listing holds the session lock for
// one round trip. Entries keep whatever order the share returns them in.
func Discover(ctx context.Context, sess *share.Session, subdir string, filter Filter, collector *metrics.Collector, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root := NormalizePath(subdir)
	if root == "." {
		root = ""
	}

	var files []string
	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[0]
		queue = queue[1:]

		var names []string
		var dirs []bool
		start := time.Now()
		err := sess.WithLock(func(c share.Client) error {
			entries, err := c.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				names = append(names, e.Name())
				dirs = append(dirs, e.IsDir())
			}
			return nil
		})
		if collector != nil {
			collector.RecordTiming(metrics.OpRemoteList, time.Since(start))
		}
		if err != nil {
			if dir == root {
				return nil, fmt.Errorf("list %q: %w", dir, err)
			}
			logger.Warn("failed to list remote directory, skipping", "dir", dir, "error", err)
			continue
		}

		for i, name := range names {
			if name == "." || name == ".." || name == "" {
				continue
			}
			full := name
			if dir != "" {
				full = dir + "/" + name
			}
			if dirs[i] {
				queue = append(queue, full)
				continue
			}
			if filter.Allow(full) {
				files = append(files, full)
			}
		}
	}

	logger.Info("remote discovery complete", "root", root, "files", len(files))
	return files, nil
}
