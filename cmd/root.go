// Package cmd defines and implements the CLI commands for the evidence-ingest executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/app"
	"github.com/JakeFAU/evidence-ingest/internal/config"
	"github.com/JakeFAU/evidence-ingest/internal/logging"
)

// skipAppAnnotation marks commands that only need config and logger.
const skipAppAnnotation = "skip-app"

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "evidence-ingest",
		Short: "Ingests and analyses market price evidence.",
		Long: `evidence-ingest pulls price observations from a registry of external sources,
stores them as deduplicated evidence records and derives price changes, trends
and benchmark proposals from them.`,
		SilenceUsage: true,

		// Build the application once config is known and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			rt := &runtime{cfg: cfg, logger: logger}
			if cmd.Annotations[skipAppAnnotation] == "" {
				rt.app, err = newApp(cmd.Context(), cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		// Shut services down once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(runtimeKey).(*runtime)
			if !ok || rt == nil {
				return
			}
			if rt.app != nil {
				if err := rt.app.Close(); err != nil {
					rt.logger.Warn("error closing application", zap.Error(err))
				}
			}
			_ = rt.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env EVIDENCE_* overrides apply)")

	cmd.AddCommand(
		newIngestCmd(),
		newTestScrapeCmd(),
		newBenchmarksCmd(),
		newTrendsCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt.app, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
