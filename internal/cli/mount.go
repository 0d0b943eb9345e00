package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/shareingest/internal/mount"
	"github.com/raphaelgruber/shareingest/internal/share"
)

var (
	mountCreds credentialFlags
	mountID    string
	mountBase  string
	mountList  string
	mountSub   string
)

var mountCmd = &cobra.Command{
	Use:   "mount <share>",
	Short: "Mount a share read-only through the OS CIFS facility",
	Long: `Mount a share read-only below the mount base directory.

The mount point is <base>/<id>[/<subpath>]. Anything already mounted there is
unmounted first. Every mount is recorded in the mount ledger.

Examples:
  shareingest mount //nas/docs --user alice
  shareingest mount //nas/docs --id docs --sub inbox --list weekly`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

var unmountCmd = &cobra.Command{
	Use:   "unmount <mount-point>",
	Short: "Unmount a mount point and mark it unmounted",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmount,
}

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "List recorded mounts",
	RunE:  runMounts,
}

func init() {
	mountCmd.Flags().StringVarP(&mountCreds.user, "user", "u", "", "SMB user (default: config smb_user, else guest)")
	mountCmd.Flags().StringVar(&mountCreds.domain, "domain", "", "SMB domain or workgroup")
	mountCmd.Flags().BoolVar(&mountCreds.passwordStdin, "password-stdin", false, "read the password from stdin")
	mountCmd.Flags().StringVar(&mountID, "id", "", "mount id (default: random)")
	mountCmd.Flags().StringVar(&mountBase, "base", "", "mount base directory (default: config mount_base)")
	mountCmd.Flags().StringVar(&mountList, "list", "", "list name stored with the mount record")
	mountCmd.Flags().StringVar(&mountSub, "sub", "", "sub path below the mount id directory")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(mountsCmd)
}

func newMountManager() *mount.Manager {
	return mount.NewManager(mount.NewLedger(cfg.MountLedger), nil, nil, logger)
}

func runMount(cmd *cobra.Command, args []string) error {
	spec, err := share.ParseSpec(args[0])
	if err != nil {
		return err
	}
	creds, err := mountCreds.resolve(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	id := mountID
	if id == "" {
		id = mount.NewMountID()
	}

	mgr := newMountManager()
	mp, err := mgr.EnsureMountPoint(cmd.Context(), firstNonEmpty(mountBase, cfg.MountBase), id, mountSub)
	if err != nil {
		return err
	}

	rec, err := mgr.Mount(cmd.Context(), spec, creds, mp, id, mountList)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s on %s (id %s)\n", rec.TargetPath, rec.MountPoint, rec.MountID)
	return nil
}

func runUnmount(cmd *cobra.Command, args []string) error {
	if err := newMountManager().Unmount(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", args[0])
	return nil
}

func runMounts(cmd *cobra.Command, args []string) error {
	recs, err := mount.NewLedger(cfg.MountLedger).List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No mounts recorded.")
		return nil
	}
	fmt.Fprintf(out, "Mounts (%d):\n\n", len(recs))
	fmt.Fprint(out, renderMounts(defaultTheme, recs))
	return nil
}

// renderMounts formats ledger entries one per line, colored by status.
func renderMounts(theme Theme, recs []mount.Record) string {
	var b strings.Builder
	for _, r := range recs {
		var style lipgloss.Style
		switch r.Status {
		case mount.StatusMounted:
			style = theme.completedStyle()
		case mount.StatusFailed:
			style = theme.errorStyle()
		default:
			style = theme.hintStyle()
		}
		fmt.Fprintf(&b, "- %s %s -> %s (%s)\n",
			style.Render(fmt.Sprintf("[%s]", r.Status)), r.MountPoint, r.TargetPath, r.MountTime.Local().Format(time.DateTime))
		if r.ListName != "" {
			fmt.Fprintf(&b, "  List: %s\n", r.ListName)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", r.Error)
		}
	}
	return b.String()
}
