package share

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Spec
	}{
		{
			name: "unc forward slashes",
			raw:  "//fileserver/docs",
			want: Spec{Host: "fileserver", Port: 445, Share: "docs"},
		},
		{
			name: "unc backslashes with subdir",
			raw:  `\\fileserver\docs\projects\2024`,
			want: Spec{Host: "fileserver", Port: 445, Share: "docs", Subdir: "projects/2024"},
		},
		{
			name: "smb url with port",
			raw:  "smb://10.0.0.5:1445/scans/inbox/",
			want: Spec{Host: "10.0.0.5", Port: 1445, Share: "scans", Subdir: "inbox"},
		},
		{
			name: "repeated separators collapse",
			raw:  "//host//share///a//b",
			want: Spec{Host: "host", Port: 445, Share: "share", Subdir: "a/b"},
		},
		{
			name: "surrounding whitespace",
			raw:  "  SMB://Host/Share  ",
			want: Spec{Host: "Host", Port: 445, Share: "Share"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSpecInvalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"fileserver/docs",
		"//fileserver",
		"//fileserver/",
		"smb://host:notaport/share",
		"smb://host:0/share",
		`//host/sh*re`,
		"//host/share/../etc",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseSpec(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSpec), "got %v", err)
		})
	}
}

func TestSpecKey(t *testing.T) {
	key := func(raw string) string {
		t.Helper()
		s, err := ParseSpec(raw)
		require.NoError(t, err)
		return s.Key()
	}

	a := key("//FileServer/docs/Projects/Q1 reports")
	assert.Regexp(t, `^fileserver_docs_projects_q1-reports_[0-9a-f]{8}$`, a)
	assert.Equal(t, a, key(`\\fileserver\docs\Projects\Q1 reports`), "separator style must not change the key")
	assert.Regexp(t, `^fileserver-1445_docs_[0-9a-f]{8}$`, key("smb://fileserver:1445/docs"))

	t.Run("case-insensitive share names", func(t *testing.T) {
		assert.Equal(t, key("//nas/docs"), key("//NAS/Docs"))
	})

	t.Run("distinct shares never collide", func(t *testing.T) {
		pairs := [][2]string{
			{"//nas/a_b", "//nas/a/b"},
			{"//nas/a b", "//nas/a-b"},
			{"//nas/docs", "//nas:1445/docs"},
			{"//nas/docs/in", "//nas/docs"},
		}
		for _, p := range pairs {
			assert.NotEqual(t, key(p[0]), key(p[1]), "%s vs %s", p[0], p[1])
		}
	})
}

func TestSpecRendering(t *testing.T) {
	s := Spec{Host: "nas", Port: 445, Share: "media", Subdir: "in"}
	assert.Equal(t, "//nas/media", s.UNC())
	assert.Equal(t, "//nas/media/in", s.String())
	assert.Equal(t, "nas:445", s.Address())
	assert.Equal(t, "in/a.txt", s.Join(s.Subdir, "a.txt"))
	assert.Equal(t, "a.txt", s.Join("", "a.txt"))
}
