package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/expense-flow/internal/config"
	"github.com/Veraticus/expense-flow/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the SQLite schema (expenses and queue tables) to the
latest version. DynamoDB tables are provisioned outside this tool.`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "Show the current schema version without applying changes")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	statusOnly, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendSQLite {
		return fmt.Errorf("migrate only applies to the sqlite store (configured: %s)", cfg.Store.Backend)
	}

	store, err := storage.NewSQLiteStorage(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if statusOnly {
		slog.Info("Database migration status",
			"database", cfg.Store.DatabasePath,
			"current", current,
			"latest", storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations", "database", cfg.Store.DatabasePath, "from", current)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Database migrations completed", "version", storage.ExpectedSchemaVersion)
	return nil
}
