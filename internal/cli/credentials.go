package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/raphaelgruber/shareingest/internal/share"
)

// credentialFlags are shared by every command that talks to a share.
type credentialFlags struct {
	user          string
	domain        string
	passwordStdin bool
}

// resolve merges flags over configured defaults. The password comes from
// stdin when requested, else the config/env, else an interactive prompt
// when a user is set and stdin is a terminal.
func (f credentialFlags) resolve(stdin io.Reader, prompt io.Writer) (share.Credentials, error) {
	creds := share.Credentials{
		User:     firstNonEmpty(f.user, cfg.SMBUser),
		Domain:   firstNonEmpty(f.domain, cfg.SMBDomain),
		Password: cfg.SMBPassword,
	}

	switch {
	case f.passwordStdin:
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return creds, fmt.Errorf("read password from stdin: %w", err)
		}
		creds.Password = strings.TrimRight(line, "\r\n")
	case creds.Password == "" && creds.User != "":
		file, ok := stdin.(*os.File)
		if !ok || !term.IsTerminal(int(file.Fd())) {
			return creds, nil
		}
		fmt.Fprintf(prompt, "Password for %s: ", creds.User)
		pw, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return creds, fmt.Errorf("read password: %w", err)
		}
		creds.Password = string(pw)
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
