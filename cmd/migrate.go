package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/app"
	"github.com/JakeFAU/evidence-ingest/internal/config"
	"github.com/JakeFAU/evidence-ingest/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which applies the embedded
// Postgres migrations.
func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Applies pending Postgres schema migrations",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Store.Driver != config.StorePostgres {
				return fmt.Errorf("migrate requires store.driver=%s, got %q", config.StorePostgres, rt.cfg.Store.Driver)
			}
			pgCfg := app.PostgresConfig(rt.cfg)
			if status {
				results, err := postgres.Status(cmd.Context(), pgCfg)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%-6d %-10s %s\n", r.Source.Version, r.State, r.Source.Path)
				}
				return nil
			}
			version, err := postgres.Migrate(cmd.Context(), pgCfg, rt.logger)
			if err != nil {
				return err
			}
			rt.logger.Info("migrations applied", zap.Int64("version", version))
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}
