package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/db"
)

var migrateResetConfirm bool

// migrator is implemented by *db.Migrator.
type migrator interface {
	Up(ctx context.Context) ([]string, error)
	Status(ctx context.Context) ([]db.MigrationStatus, error)
	Reset(ctx context.Context) ([]string, error)
}

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long:  `Apply, inspect or reset the embedded PostgreSQL migrations.`,
	Example: `  portscout migrate up
  portscout migrate status
  portscout migrate reset --yes`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithMigrator(cmd, func(ctx context.Context, m migrator) error {
			return migrateUp(ctx, cmd.OutOrStdout(), m)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithMigrator(cmd, func(ctx context.Context, m migrator) error {
			return migrateStatus(ctx, cmd.OutOrStdout(), m)
		})
	},
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all portscout tables and re-apply migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateResetConfirm {
			return fmt.Errorf("reset deletes all stored scans and profiles; pass --yes to confirm")
		}
		return runWithMigrator(cmd, func(ctx context.Context, m migrator) error {
			ran, err := m.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database reset, %d migration(s) applied\n", len(ran))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateResetCmd)

	migrateResetCmd.Flags().BoolVar(&migrateResetConfirm, "yes", false, "Confirm dropping all data")
}

func runWithMigrator(cmd *cobra.Command, op func(context.Context, migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	ctx := cmd.Context()
	return withDatabase(ctx, cfg, func(database *db.DB) error {
		return op(ctx, db.NewMigrator(database.DB))
	})
}

func migrateUp(ctx context.Context, out io.Writer, m migrator) error {
	ran, err := m.Up(ctx)
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		fmt.Fprintln(out, "Database is up to date.")
		return nil
	}
	for _, name := range ran {
		fmt.Fprintf(out, "Applied %s\n", name)
	}
	return nil
}

func migrateStatus(ctx context.Context, out io.Writer, m migrator) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Migration", "Applied", "Applied At", "Note")
	for _, s := range statuses {
		applied, at, note := "no", "", ""
		if s.Applied {
			applied = "yes"
			at = s.AppliedAt.UTC().Format(scanTimeFormat)
		}
		if s.Modified {
			note = "modified since applied"
		}
		if err := table.Append([]string{s.Name, applied, at, note}); err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}
	return table.Render()
}
