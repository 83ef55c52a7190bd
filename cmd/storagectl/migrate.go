package main

import (
	"fmt"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the catalog schema migrations",
		Long: `Apply or roll back the embedded catalog schema migrations.

Examples:
  # Apply all pending migrations
  storagectl migrate up

  # Roll back every migration (destroys the catalog)
  storagectl migrate down`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			dsn := env.bundle.Bootstrap.Data.Postgres.DSN
			switch direction {
			case "up":
				result, err := database.Migrate(dsn, env.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (changed=%v)\n", result.Version, result.Applied)
				return nil
			case "down":
				if err := database.MigrateDown(dsn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
				return nil
			default:
				return fmt.Errorf("unknown direction %q, want up or down", direction)
			}
		},
	}
}
