package app

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"registry-service/internal/platform/postgres"
)

// newMigrator is replaced in tests.
var newMigrator = postgres.NewMigrator

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Manage the PostgreSQL schema of the company cache. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, v, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long:  `Revert applied migrations. Without --num-steps every migration is reverted and the cache table is dropped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, v, false)
		},
	})

	return cmd
}

func runMigrate(cmd *cobra.Command, v *viper.Viper, up bool) error {
	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}

	m, err := newMigrator(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case steps > 0 && up:
		err = m.Steps(int(steps))
	case steps > 0:
		err = m.Steps(-int(steps))
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		cmd.Println("No migrations applied")
	case err != nil:
		return fmt.Errorf("failed to read migration version: %w", err)
	case dirty:
		cmd.Printf("Database is in a dirty state at version %d\n", version)
	default:
		cmd.Printf("Current schema version: %d\n", version)
	}
	return nil
}
