package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/shareingest/internal/convert"
	"github.com/raphaelgruber/shareingest/internal/ledger"
	"github.com/raphaelgruber/shareingest/internal/share"
)

var ledgerPending bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger <share>",
	Short: "Show the ledger of a share",
	Long: `Show how many files of a share are processed, pending or unsupported.

The ledger is read from the local ledger directory; the share is not contacted.

Examples:
  shareingest ledger //nas/docs
  shareingest ledger //nas/docs --pending`,
	Args: cobra.ExactArgs(1),
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerPending, "pending", false, "list pending files")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	spec, err := share.ParseSpec(args[0])
	if err != nil {
		return err
	}

	store := ledger.NewStore(cfg.LedgerDir, nil)
	out := cmd.OutOrStdout()

	exists, err := store.Exists(spec.Key())
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(out, "No ledger for %s yet. Run `shareingest run %s` to create one.\n", spec, args[0])
		return nil
	}

	records, err := store.Load(spec.Key())
	if err != nil {
		return err
	}

	supported := convert.DefaultRegistry().Supported
	sum := ledger.Summarize(records, supported)

	fmt.Fprintf(out, "Ledger %s\n\n", store.Path(spec.Key()))
	fmt.Fprintf(out, "  Files:       %d\n", sum.Total)
	fmt.Fprintf(out, "  Processed:   %d\n", sum.Processed)
	fmt.Fprintf(out, "  Pending:     %d\n", sum.Pending)
	fmt.Fprintf(out, "  Unsupported: %d\n", sum.Unsupported)

	if ledgerPending {
		pending := ledger.Unprocessed(records, supported)
		if len(pending) > 0 {
			fmt.Fprintf(out, "\nPending (%d):\n", len(pending))
		}
		for _, r := range pending {
			fmt.Fprintf(out, "- %s\n", r.Path)
		}
	}
	return nil
}
