package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/benchmark"
	"github.com/JakeFAU/evidence-ingest/internal/trends"
)

// newBenchmarksCmd creates the 'benchmarks' subcommand, which appends a new
// round of benchmark proposals.
func newBenchmarksCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "benchmarks",
		Short: "Generates benchmark proposals from stored evidence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, err := a.GetIDs().NewID()
			if err != nil {
				return err
			}
			proposals, err := a.GetBenchmarks().Generate(cmd.Context(), benchmark.Options{Category: category, RunID: runID})
			if err != nil {
				return err
			}
			a.GetLogger().Info("benchmark proposals generated", zap.String("run_id", runID), zap.Int("count", len(proposals)))
			return printJSON(cmd.OutOrStdout(), proposals)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "limit generation to one category")
	return cmd
}

// newTrendsCmd creates the 'trends' subcommand. New snapshots are swept for
// alerts when an alert backend is configured.
func newTrendsCmd() *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Computes trend snapshots from stored evidence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, err := a.GetIDs().NewID()
			if err != nil {
				return err
			}
			started := a.GetClock().Now()
			snapshots, err := a.GetTrends().Run(cmd.Context(), trends.Options{Categories: categories, RunID: runID})
			if err != nil {
				return err
			}
			if sweeper := a.GetAlerts(); sweeper != nil {
				published, err := sweeper.Sweep(cmd.Context(), started)
				if err != nil {
					a.GetLogger().Warn("alert sweep failed", zap.Error(err))
				}
				a.GetLogger().Info("alerts published", zap.Int("count", published))
			}
			return printJSON(cmd.OutOrStdout(), snapshots)
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "limit the computation to these categories")
	return cmd
}
