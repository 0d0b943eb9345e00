// Package transfer copies single remote files into a local staging
// directory through an external SMB transfer tool.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/raphaelgruber/shareingest/internal/share"
)

// Request is one invocation of the transfer tool.
type Request struct {
	Spec        share.Spec
	Credentials share.Credentials
	RemotePath  string // relative to the share root
	LocalPath   string
}

// Runner executes the transfer tool. Implementations must stop the tool
// when ctx is done.
type Runner interface {
	Run(ctx context.Context, req Request) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// SMBClientRunner shells out to smbclient. The password travels in the
// PASSWD environment variable, never on the command line.
type SMBClientRunner struct {
	Path string
}

// Run implements Runner.
func (r SMBClientRunner) Run(ctx context.Context, req Request) error {
	bin := r.Path
	if bin == "" {
		bin = "smbclient"
	}

	args, err := smbclientArgs(req)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "PASSWD="+req.Credentials.Password)
	cmd.WaitDelay = 2 * time.Second

	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smbclient: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("smbclient: %w", err)
		}
		return fmt.Errorf("smbclient: %w: %s", err, msg)
	}
	return nil
}

// CommandSafe reports whether p can be embedded in a quoted smbclient -c
// command. smbclient splits the command string on ';' and has no escape
// for '"', so both are rejected along with control characters.
func CommandSafe(p string) bool {
	for _, r := range p {
		if r == '"' || r == ';' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func smbclientArgs(req Request) ([]string, error) {
	if !CommandSafe(req.RemotePath) || !CommandSafe(req.LocalPath) {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeName, req.RemotePath)
	}
	remote := strings.ReplaceAll(req.RemotePath, "/", `\`)
	args := []string{req.Spec.UNC()}
	if req.Credentials.User != "" {
		args = append(args, "-U", req.Credentials.User)
	} else {
		args = append(args, "-N")
	}
	if req.Credentials.Domain != "" {
		args = append(args, "-W", req.Credentials.Domain)
	}
	if req.Spec.Port != 0 && req.Spec.Port != share.DefaultPort {
		args = append(args, "-p", strconv.Itoa(req.Spec.Port))
	}
	args = append(args, "-c", `get "`+remote+`" "`+req.LocalPath+`"`)
	return args, nil
}
