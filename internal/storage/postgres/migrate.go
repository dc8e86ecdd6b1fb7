package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded migration files rooted at their directory.
func Migrations() (fs.FS, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return sub, nil
}

// Migrate applies every pending migration and returns the resulting version.
func Migrate(ctx context.Context, cfg Config, logger *zap.Logger) (int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, closeDB, err := newProvider(cfg)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Status reports the applied state of every known migration.
func Status(ctx context.Context, cfg Config) ([]*goose.MigrationStatus, error) {
	provider, closeDB, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	defer closeDB()
	status, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	return status, nil
}

func newProvider(cfg Config) (*goose.Provider, func(), error) {
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("store.dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Schema != "" {
		if !validIdentifier.MatchString(cfg.Schema) {
			return nil, nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
		}
		connCfg.RuntimeParams["search_path"] = cfg.Schema
	}
	fsys, err := Migrations()
	if err != nil {
		return nil, nil, err
	}
	db := stdlib.OpenDB(*connCfg)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migration provider: %w", err)
	}
	return provider, func() { _ = provider.Close() }, nil
}
