// Package share models a remote SMB/CIFS share: how it is addressed, how a
// connection to it is opened, and how access to that connection is serialized.
package share

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
)

// DefaultPort is the SMB-over-TCP port.
const DefaultPort = 445

var (
	// ErrInvalidSpec indicates a malformed share specification. It is raised
	// before any I/O happens.
	ErrInvalidSpec = errors.New("invalid share spec")

	// ErrConnection indicates the share session could not be established.
	ErrConnection = errors.New("share connection failed")
)

// Spec identifies a share endpoint and an optional starting subdirectory.
type Spec struct {
	Host   string
	Port   int
	Share  string
	Subdir string // slash-separated, no leading or trailing slash
}

// Credentials authenticate against a share.
type Credentials struct {
	User     string
	Password string
	Domain   string
}

// ParseSpec accepts //host/share/sub, \\host\share\sub and
// smb://host[:port]/share/sub forms.
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	s = strings.ReplaceAll(s, `\`, "/")
	switch {
	case len(s) >= 6 && strings.EqualFold(s[:6], "smb://"):
		s = s[6:]
	case strings.HasPrefix(s, "//"):
		s = s[2:]
	default:
		return Spec{}, fmt.Errorf("%w: %q must start with // or smb://", ErrInvalidSpec, raw)
	}

	var parts []string
	for _, p := range strings.Split(s, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Spec{}, fmt.Errorf("%w: %q needs both host and share", ErrInvalidSpec, raw)
	}

	spec := Spec{Host: parts[0], Port: DefaultPort, Share: parts[1]}
	if strings.Contains(spec.Host, ":") {
		host, port, err := net.SplitHostPort(spec.Host)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return Spec{}, fmt.Errorf("%w: bad port %q", ErrInvalidSpec, port)
		}
		spec.Host, spec.Port = host, n
	}
	if spec.Host == "" || strings.ContainsAny(spec.Host, " \t") {
		return Spec{}, fmt.Errorf("%w: bad host %q", ErrInvalidSpec, spec.Host)
	}
	if strings.ContainsAny(spec.Share, `<>:"|?*`) {
		return Spec{}, fmt.Errorf("%w: bad share name %q", ErrInvalidSpec, spec.Share)
	}
	for _, p := range parts[2:] {
		if p == ".." {
			return Spec{}, fmt.Errorf("%w: subdirectory may not contain ..", ErrInvalidSpec)
		}
	}
	spec.Subdir = strings.Join(parts[2:], "/")
	return spec, nil
}

// UNC returns the share root as //host/share.
func (s Spec) UNC() string {
	return "//" + s.Host + "/" + s.Share
}

// Address returns host:port for dialing.
func (s Spec) Address() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// String renders the spec including its subdirectory.
func (s Spec) String() string {
	if s.Subdir == "" {
		return s.UNC()
	}
	return s.UNC() + "/" + s.Subdir
}

// Join resolves a path relative to the share root.
func (s Spec) Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// Key returns a filesystem-safe identifier for this share and subdirectory.
// Ledger files and staging directories are named after it. The readable
// prefix may collide after sanitizing, so a digest of the canonical
// lowercase address/share/subdir is appended; SMB names are
// case-insensitive, so //nas/Docs and //nas/docs share one key.
func (s Spec) Key() string {
	canon := strings.ToLower(s.Address() + "/" + s.Share)
	if s.Subdir != "" {
		canon += "/" + strings.ToLower(s.Subdir)
	}
	sum := sha256.Sum256([]byte(canon))

	parts := []string{strings.ToLower(s.Host), strings.ToLower(s.Share)}
	if s.Port != 0 && s.Port != DefaultPort {
		parts[0] += "-" + strconv.Itoa(s.Port)
	}
	if s.Subdir != "" {
		parts = append(parts, strings.Split(strings.ToLower(s.Subdir), "/")...)
	}
	return sanitize(strings.Join(parts, "_")) + "_" + hex.EncodeToString(sum[:4])
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
