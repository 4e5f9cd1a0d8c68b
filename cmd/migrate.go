package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database/mariadb"
	"github.com/kozaktomas/bioauth/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending SQL migrations for the configured STORE_BACKEND.

Migrations are embedded in the binary and also run automatically when the
server starts; this command lets a deploy job run them ahead of time.
Concurrent runs are serialized by a database lock.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// migrator is implemented by the SQL connection pools.
type migrator interface {
	Migrate(ctx context.Context) ([]string, error)
	MigrationsApplied(ctx context.Context) ([]string, error)
	Close() error
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var pool migrator
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		p, err := postgres.NewPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		pool = p
	case config.BackendMariaDB:
		p, err := mariadb.NewPool(ctx, &cfg.MariaDB)
		if err != nil {
			return fmt.Errorf("failed to connect to MariaDB: %w", err)
		}
		pool = p
	default:
		fmt.Printf("Backend %q has no SQL schema, nothing to migrate\n", cfg.Store.Backend)
		return nil
	}
	defer pool.Close()

	applied, err := pool.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, file := range applied {
		fmt.Printf("Applied %s\n", file)
	}

	all, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Printf("Schema is up to date (%d migrations)\n", len(all))
	} else {
		fmt.Printf("Applied %d migrations, %d total\n", len(applied), len(all))
	}
	return nil
}
