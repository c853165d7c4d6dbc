package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/censys/url-reputation/pkg/scan"
)

func newScanCmd() *cobra.Command {
	var surface string
	cmd := &cobra.Command{
		Use:   "scan URL",
		Short: "Scan one URL and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer done()

			res, err := a.Orchestrator.Navigate(cmd.Context(), scan.Navigation{URL: args[0], Surface: surface})
			if err != nil {
				return err
			}
			if res.Phase == scan.Gated {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "scanning is disabled: set a valid VT_API_KEY")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&surface, "surface", "cli", "surface name attached to alerts")
	return cmd
}
