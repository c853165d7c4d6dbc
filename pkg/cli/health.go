package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check credential readiness and provider reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer done()

			report := a.Health(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ready: %v\n", report.Ready)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PROVIDER\tRUNNING\tSTATUS\tDETAIL")
			for _, h := range report.Providers {
				detail := h.Message
				if h.Error != "" {
					detail = h.Error
				}
				_, _ = fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", h.Provider, h.Running, h.Status, detail)
			}
			return tw.Flush()
		},
	}
}
