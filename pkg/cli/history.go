package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/censys/url-reputation/pkg/history"
	"github.com/censys/url-reputation/pkg/storage"
)

func newHistoryCmd() *cobra.Command {
	var filter string
	var stats bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := history.ParseFilter(filter)
			if err != nil {
				return err
			}
			a, done, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer done()

			if stats {
				s, err := a.Ledger.Stats(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "total=%d malicious=%d safe=%d failed=%d\n", s.Total, s.Malicious, s.Safe, s.Failed)
				return nil
			}

			entries, err := a.Ledger.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SCANNED\tVERDICT\tPROVIDERS\tURL")
			for _, e := range entries {
				verdict := "safe"
				switch {
				case e.IsMalicious:
					verdict = "malicious"
				case !e.ScanSucceeded:
					verdict = "failed"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ScanTime.Format(time.RFC3339), verdict, answered(e), e.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all|malicious|safe")
	cmd.Flags().BoolVar(&stats, "stats", false, "print counts instead of entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every history entry and its cached record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer done()

			n, err := a.Ledger.Clear(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	})
	return cmd
}

// answered lists which providers contributed a result to the entry.
func answered(e storage.HistoryEntry) string {
	var parts []string
	if e.HasSignature {
		parts = append(parts, "sig")
	}
	if e.HasClassifier {
		parts = append(parts, "cls")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
