// Package ledger persists which remote files of a share have already been
// ingested, so re-runs only pick up what is left.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// FileRecord is one remote file's processing state.
type FileRecord struct {
	Path      string
	Processed bool
	Hash      string
}

// Ext returns the record's lowercased extension without the dot.
func (r FileRecord) Ext() string {
	return Ext(r.Path)
}

// NormalizePath converts a remote path to the ledger's convention:
// forward slashes, no leading separator, no "./" prefix.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Ext returns the lowercased extension of p without the dot.
func Ext(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// IdentityToken is the record's hash column. It digests the remote path
// string, not the file content.
func IdentityToken(remotePath string) string {
	sum := sha256.Sum256([]byte(NormalizePath(remotePath)))
	return hex.EncodeToString(sum[:])
}

// Dedupe collapses records sharing a normalized path, keeping first-seen
// order. A processed duplicate wins over an unprocessed one.
func Dedupe(records []FileRecord) []FileRecord {
	index := make(map[string]int, len(records))
	out := make([]FileRecord, 0, len(records))
	for _, r := range records {
		r.Path = NormalizePath(r.Path)
		if i, ok := index[r.Path]; ok {
			if r.Processed && !out[i].Processed {
				out[i] = r
			}
			continue
		}
		index[r.Path] = len(out)
		out = append(out, r)
	}
	return out
}

// Unprocessed returns records still to do whose extension is supported.
// Unsupported pending records are skipped but remain in the ledger.
func Unprocessed(records []FileRecord, supported func(ext string) bool) []FileRecord {
	var out []FileRecord
	for _, r := range records {
		if r.Processed {
			continue
		}
		if supported != nil && !supported(r.Ext()) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summary counts ledger rows by state.
type Summary struct {
	Total       int
	Processed   int
	Pending     int
	Unsupported int
}

// Summarize counts records. Unsupported counts pending rows the supported
// predicate rejects; they are not included in Pending.
func Summarize(records []FileRecord, supported func(ext string) bool) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch {
		case r.Processed:
			s.Processed++
		case supported != nil && !supported(r.Ext()):
			s.Unsupported++
		default:
			s.Pending++
		}
	}
	return s
}
