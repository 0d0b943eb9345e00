package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestNormalizeExt(t *testing.T) {
	tests := map[string]string{
		".PDF":     "pdf",
		"jpeg":     "jpg",
		".JPEG":    "jpg",
		" .Htm ":   "html",
		"markdown": "md",
		"":         "",
		"tar":      "tar",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeExt(in), "NormalizeExt(%q)", in)
	}
}

func TestDefaultRegistrySupported(t *testing.T) {
	r := DefaultRegistry()
	assert.True(t, r.Supported("pdf"))
	assert.True(t, r.Supported(".JPEG"))
	assert.True(t, r.Supported("txt"))
	assert.False(t, r.Supported("xyz"))
	assert.Contains(t, r.Extensions(), "docx")
}

func TestResolveRegistered(t *testing.T) {
	r := DefaultRegistry()
	p := writeFile(t, "abc_report.pdf", []byte("%PDF-1.7"))

	c, ext, err := r.Resolve(p, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)
	assert.IsType(t, StagedConverter{}, c)
}

func TestResolveTextFallback(t *testing.T) {
	r := DefaultRegistry()
	p := writeFile(t, "notes.cfg", []byte("key = value\nother = thing\n"))

	c, ext, err := r.Resolve(p, "notes.cfg")
	require.NoError(t, err)
	assert.Equal(t, "txt", ext)

	out, err := c.Convert(context.Background(), Input{LocalPath: p, Filename: "notes.cfg"})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Len(t, out.Documents, 1)
	assert.Contains(t, out.Documents[0].Content, "key = value")
}

func TestResolveTextFallbackCutRune(t *testing.T) {
	r := DefaultRegistry()
	// 511 ASCII bytes followed by a 2-byte rune straddling the sniff window.
	content := strings.Repeat("a", 511) + "é and more"
	p := writeFile(t, "long.cfg", []byte(content))

	_, ext, err := r.Resolve(p, "long.cfg")
	require.NoError(t, err)
	assert.Equal(t, "txt", ext)
}

func TestResolveUnsupportedBinary(t *testing.T) {
	r := DefaultRegistry()
	p := writeFile(t, "blob.xyz", []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10})

	_, _, err := r.Resolve(p, "blob.xyz")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestResolveEmptyUnknownFile(t *testing.T) {
	r := DefaultRegistry()
	p := writeFile(t, "empty.xyz", nil)

	_, _, err := r.Resolve(p, "empty.xyz")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTextConverterRejectsInvalidUTF8(t *testing.T) {
	p := writeFile(t, "bad.txt", []byte{0xff, 0xfe, 'a'})
	out, err := TextConverter{}.Convert(context.Background(), Input{LocalPath: p, Filename: "bad.txt"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Reason)
}

func TestDirTrash(t *testing.T) {
	p := writeFile(t, "blob.xyz", []byte("junk"))
	trash := DirTrash{Dir: filepath.Join(t.TempDir(), "trash")}

	dst, err := trash.Trash(p)
	require.NoError(t, err)

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err), "original should be gone")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "junk", string(data))
	assert.True(t, strings.HasSuffix(dst, "_blob.xyz"))
}

func TestConverterFunc(t *testing.T) {
	var seen Input
	c := ConverterFunc(func(ctx context.Context, in Input) (Output, error) {
		seen = in
		return Output{Success: true}, nil
	})
	r := NewRegistry()
	r.Register(c, ".eml")

	got, _, err := r.Resolve(writeFile(t, "x.eml", []byte("x")), "mail.EML")
	require.NoError(t, err)
	_, err = got.Convert(context.Background(), Input{Filename: "mail.EML"})
	require.NoError(t, err)
	assert.Equal(t, "mail.EML", seen.Filename)
}
