package cmd

import (
	"github.com/spf13/cobra"
)

// newTestScrapeCmd creates the 'test-scrape' subcommand: a dry run of one
// source that persists nothing.
func newTestScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-scrape <source_id>",
		Short: "Fetches and extracts one source without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			conns, err := a.Connectors(cmd.Context(), args, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.GetOrchestrator().TestScrape(cmd.Context(), conns[0]))
		},
	}
}
