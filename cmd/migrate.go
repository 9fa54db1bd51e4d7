package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending PostgreSQL migrations.

Migrations are embedded in the binary and applied in order, each in its own
transaction. The serve command applies them on startup as well.

Examples:
  # Apply pending migrations
  face-attendance migrate

  # Show which migrations are applied
  face-attendance migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "Only list migrations and whether they are applied")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !mustGetBool(cmd, "status") {
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Println("Database schema is up to date")
	}

	status, err := pool.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED")
	for _, m := range status {
		fmt.Fprintf(w, "%s\t%t\n", m.Version, m.Applied)
	}
	return w.Flush()
}
