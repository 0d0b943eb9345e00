package share

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"

	"github.com/hirochachacha/go-smb2"
)

type smbClient struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

// DialSMB connects to spec with NTLM authentication and mounts the share.
func DialSMB(ctx context.Context, spec Spec, creds Credentials) (Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", spec.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", spec.Address(), err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     creds.User,
			Password: creds.Password,
			Domain:   creds.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("negotiate session: %w", err)
	}

	mounted, err := session.Mount(spec.Share)
	if err != nil {
		_ = session.Logoff()
		_ = conn.Close()
		return nil, fmt.Errorf("mount share %s: %w", spec.Share, err)
	}

	return &smbClient{conn: conn, session: session, share: mounted}, nil
}

func (c *smbClient) ReadDir(dir string) ([]fs.FileInfo, error) {
	return c.share.ReadDir(smbPath(dir))
}

func (c *smbClient) Stat(name string) (fs.FileInfo, error) {
	return c.share.Stat(smbPath(name))
}

func (c *smbClient) Close() error {
	var errs []error
	if err := c.share.Umount(); err != nil {
		errs = append(errs, fmt.Errorf("umount: %w", err))
	}
	if err := c.session.Logoff(); err != nil {
		errs = append(errs, fmt.Errorf("logoff: %w", err))
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close conn: %w", err))
	}
	return errors.Join(errs...)
}

// smbPath converts a slash path relative to the share root into the form
// go-smb2 expects: backslashes, no leading separator, "" for the root.
func smbPath(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "/", `\`), `\`)
	if p == "." {
		return ""
	}
	return p
}
