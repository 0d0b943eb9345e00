// Package convert is the boundary to the per-type content extractors that
// consume staged files.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrUnsupported means no converter handles the file and its content does
// not look like text.
var ErrUnsupported = errors.New("unsupported file type")

// Input describes a staged file handed to a converter.
type Input struct {
	LocalPath string
	Filename  string
	Options   map[string]any
}

// Document is one unit of extracted content.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Output is a converter's verdict on one file.
type Output struct {
	Success   bool
	Reason    string
	Documents []Document
}

// Converter extracts content from one file type.
type Converter interface {
	Convert(ctx context.Context, in Input) (Output, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, in Input) (Output, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(ctx context.Context, in Input) (Output, error) {
	return f(ctx, in)
}

var aliases = map[string]string{
	"jpeg":     "jpg",
	"htm":      "html",
	"tif":      "tiff",
	"markdown": "md",
	"yml":      "yaml",
}

// NormalizeExt lowercases, trims the dot and folds aliases.
func NormalizeExt(ext string) string {
	e := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if a, ok := aliases[e]; ok {
		return a
	}
	return e
}

// Registry maps normalized extensions to converters.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
	text       Converter
}

// NewRegistry returns an empty registry whose text fallback is TextConverter.
func NewRegistry() *Registry {
	return &Registry{
		converters: make(map[string]Converter),
		text:       TextConverter{},
	}
}

// Register binds converter to each extension.
func (r *Registry) Register(c Converter, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.converters[NormalizeExt(ext)] = c
	}
}

// Supported reports whether ext has a registered converter.
func (r *Registry) Supported(ext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.converters[NormalizeExt(ext)]
	return ok
}

// Extensions lists registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.converters))
	for ext := range r.converters {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the converter for a staged file by the extension of
// filename. Unregistered extensions fall back to the text converter when the
// file content sniffs as text; otherwise ErrUnsupported. Ingest runs only
// transfer Supported extensions, so they never reach the fallback through
// this registry.
func (r *Registry) Resolve(localPath, filename string) (Converter, string, error) {
	ext := NormalizeExt(filepath.Ext(filename))

	r.mu.RLock()
	c, ok := r.converters[ext]
	text := r.text
	r.mu.RUnlock()
	if ok {
		return c, ext, nil
	}

	isText, err := sniffText(localPath)
	if err != nil {
		return nil, ext, fmt.Errorf("sniff %s: %w", filename, err)
	}
	if isText {
		return text, "txt", nil
	}
	return nil, ext, fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

func sniffText(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	buf = buf[:n]
	if n == 0 {
		return false, nil
	}
	if !strings.HasPrefix(http.DetectContentType(buf), "text/") {
		return false, nil
	}
	// A multi-byte rune may be cut at the sniff boundary.
	if n == len(buf) && !utf8.Valid(buf) {
		for i := 0; i < utf8.UTFMax-1 && len(buf) > 0 && !utf8.Valid(buf); i++ {
			buf = buf[:len(buf)-1]
		}
	}
	return utf8.Valid(buf), nil
}

// DefaultRegistry handles common office, image and audio formats with
// StagedConverter and plain-text formats with TextConverter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TextConverter{}, "txt", "md", "csv", "json", "xml", "html", "log", "yaml", "rtf")
	r.Register(StagedConverter{Kind: "document"}, "pdf", "doc", "docx", "odt", "xls", "xlsx", "ods", "ppt", "pptx", "odp", "msg", "eml")
	r.Register(StagedConverter{Kind: "image"}, "jpg", "png", "gif", "bmp", "tiff", "webp", "heic")
	r.Register(StagedConverter{Kind: "audio"}, "mp3", "wav", "m4a", "flac", "ogg")
	return r
}
